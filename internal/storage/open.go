package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Driver     string      `yaml:"driver"      validate:"required,oneof=memory sqlite redis"`
	SQLitePath string      `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"     validate:"min=0"`
	Prefix   string `yaml:"prefix"`
}

// Open returns the backend named by cfg.Driver. The Redis backend is pinged
// before it is returned.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		var opts []RedisOption
		if cfg.Redis.Prefix != "" {
			opts = append(opts, WithPrefix(cfg.Redis.Prefix))
		}
		return NewRedisStore(client, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
