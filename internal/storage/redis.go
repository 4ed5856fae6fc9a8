package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-sweep/internal/domain"
)

const (
	defaultRedisPrefix = "sweep"
	// maxTxRetries bounds optimistic-lock retries when a watched key changes.
	maxTxRetries = 10
)

// RedisStore persists experiments as JSON strings, indexes them in a sorted
// set scored by creation time, and keeps responses in a per-experiment list.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix for Redis keys. Default is "sweep".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithPrefix("sweep"),
//	)
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) experimentKey(id string) string { return s.prefix + ":experiment:" + id }
func (s *RedisStore) responsesKey(id string) string {
	return s.prefix + ":experiment:" + id + ":responses"
}
func (s *RedisStore) responseIDsKey(id string) string {
	return s.prefix + ":experiment:" + id + ":response_ids"
}
func (s *RedisStore) indexKey() string { return s.prefix + ":experiments" }

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) CreateExperiment(ctx context.Context, exp *domain.Experiment) (string, error) {
	c := prepareExperiment(exp, s.now())
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal experiment: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.experimentKey(c.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.CreatedAt.UnixMicro()), Member: c.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis create experiment failed: %w", err)
	}
	return c.ID, nil
}

// watch runs fn under WATCH on keys, retrying when a watched key changes.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction retries exhausted: %w", redis.TxFailedErr)
}

// stringGetter is satisfied by both the client and a watched transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) loadExperiment(ctx context.Context, c stringGetter, id string) (*domain.Experiment, error) {
	data, err := c.Get(ctx, s.experimentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var exp domain.Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment: %w", err)
	}
	return &exp, nil
}

func (s *RedisStore) UpdateExperiment(ctx context.Context, id string, patch domain.ExperimentPatch) error {
	key := s.experimentKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		exp, err := s.loadExperiment(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := patch.Apply(exp, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(exp)
		if err != nil {
			return fmt.Errorf("failed to marshal experiment: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	return s.loadExperiment(ctx, s.client, id)
}

func (s *RedisStore) ListExperiments(ctx context.Context, limit int, cursor string) (*ExperimentPage, error) {
	limit = NormalizeLimit(limit)

	var start int64
	if cursor != "" {
		rank, err := s.client.ZRevRank(ctx, s.indexKey(), cursor).Result()
		if errors.Is(err, redis.Nil) {
			return nil, errInvalidCursor(cursor)
		}
		if err != nil {
			return nil, fmt.Errorf("redis zrevrank failed: %w", err)
		}
		start = rank + 1
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), start, start+int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	page := &ExperimentPage{}
	if len(ids) > limit {
		ids = ids[:limit]
		page.HasMore = true
		page.NextCursor = ids[limit-1]
	}
	if len(ids) == 0 {
		return page, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.experimentKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	page.Experiments = make([]domain.Experiment, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between index read and fetch
		}
		var exp domain.Experiment
		if err := json.Unmarshal([]byte(str), &exp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal experiment %s: %w", ids[i], err)
		}
		page.Experiments = append(page.Experiments, exp)
	}
	return page, nil
}

func (s *RedisStore) AddResponse(ctx context.Context, experimentID string, resp *domain.Response) (string, error) {
	c := prepareResponse(experimentID, resp, s.now())
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %w", err)
	}

	expKey, idsKey := s.experimentKey(experimentID), s.responseIDsKey(experimentID)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, expKey).Result()
		if err != nil {
			return fmt.Errorf("redis exists failed: %w", err)
		}
		if n == 0 {
			return notFound(experimentID)
		}
		stored, err := tx.HExists(ctx, idsKey, c.ID).Result()
		if err != nil {
			return fmt.Errorf("redis hexists failed: %w", err)
		}
		if stored {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, idsKey, c.ID, data)
			pipe.RPush(ctx, s.responsesKey(experimentID), data)
			return nil
		})
		return err
	}, expKey, idsKey)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// GetResponse reads the id-keyed hash that AddResponse maintains alongside
// the ordered list.
func (s *RedisStore) GetResponse(ctx context.Context, experimentID, responseID string) (*domain.Response, error) {
	data, err := s.client.HGet(ctx, s.responseIDsKey(experimentID), responseID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}
	var r domain.Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &r, nil
}

func (s *RedisStore) ListResponses(ctx context.Context, experimentID string) ([]domain.Response, error) {
	items, err := s.client.LRange(ctx, s.responsesKey(experimentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	out := make([]domain.Response, 0, len(items))
	for _, item := range items {
		var r domain.Response
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteAllResponses drops the response list and its id hash with a single
// DEL.
func (s *RedisStore) DeleteAllResponses(ctx context.Context, experimentID string) error {
	if err := s.client.Del(ctx, s.responsesKey(experimentID), s.responseIDsKey(experimentID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteExperiment(ctx context.Context, id string) error {
	expKey, respKey := s.experimentKey(id), s.responsesKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, expKey).Result()
		if err != nil {
			return fmt.Errorf("redis exists failed: %w", err)
		}
		if n == 0 {
			return notFound(id)
		}
		remaining, err := tx.LLen(ctx, respKey).Result()
		if err != nil {
			return fmt.Errorf("redis llen failed: %w", err)
		}
		if remaining > 0 {
			return ErrHasResponses
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, expKey)
			pipe.ZRem(ctx, s.indexKey(), id)
			return nil
		})
		return err
	}, expKey, respKey)
}
