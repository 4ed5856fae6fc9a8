package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per model.
type rateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware throttles requests per model. Callers wait for a
// token instead of being rejected, so a burst of sweep tasks is smoothed
// rather than failed. A disabled config yields a pass-through middleware.
func NewRateLimitMiddleware(cfg RateLimitConfig) Middleware {
	if !cfg.Enabled() {
		return func(next Handler) Handler { return next }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	rl := &rateLimiter{cfg: cfg, limiters: make(map[string]*rate.Limiter)}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if err := rl.wait(ctx, req.Model); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

func (r *rateLimiter) wait(ctx context.Context, key string) error {
	if err := r.limiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimitWait, err)
	}
	return nil
}

func (r *rateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
		r.limiters[key] = l
	}
	return l
}
