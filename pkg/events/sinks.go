package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// LogSink writes envelopes to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by logger. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Append implements EventSink.
func (s *LogSink) Append(ctx context.Context, env Envelope) error {
	s.logger.InfoContext(ctx, "event",
		"type", env.Type,
		"experiment_id", env.ExperimentID,
		"workflow_id", env.WorkflowID,
		"idempotency_key", env.IdempotencyKey,
		"payload", string(env.Payload))
	return nil
}

// DefaultStreamMaxLen caps the Redis stream length.
const DefaultStreamMaxLen = 10000

// RedisStreamSink appends envelopes to a Redis stream with XADD.
type RedisStreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// StreamOption configures a RedisStreamSink.
type StreamOption func(*RedisStreamSink)

// WithMaxLen trims the stream to approximately n entries. Zero disables
// trimming.
func WithMaxLen(n int64) StreamOption {
	return func(s *RedisStreamSink) { s.maxLen = n }
}

// NewRedisStreamSink creates a sink appending to stream.
func NewRedisStreamSink(client redis.UniversalClient, stream string, opts ...StreamOption) *RedisStreamSink {
	s := &RedisStreamSink{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements EventSink. The envelope is stored as JSON under the
// "envelope" field, with type and idempotency key alongside for filtering.
func (s *RedisStreamSink) Append(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":            env.Type,
			"idempotency_key": env.IdempotencyKey,
			"envelope":        string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd failed: %w", err)
	}
	return nil
}
