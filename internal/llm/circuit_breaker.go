package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// jitterDivisor caps open-timeout jitter at a tenth of the timeout.
const jitterDivisor = 10

// CircuitState is the breaker state machine position.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probes.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker fails fast while the provider is down.
type circuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	halfOpenProbes  atomic.Int32
	lastFailureTime atomic.Int64

	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig, logger *slog.Logger) *circuitBreaker {
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &circuitBreaker{cfg: cfg, logger: logger, now: time.Now}
	cb.state.Store(int32(StateClosed))
	return cb
}

// NewCircuitBreakerMiddleware rejects requests with ErrCircuitOpen after
// FailureThreshold consecutive provider outages. A disabled config yields a
// pass-through middleware.
func NewCircuitBreakerMiddleware(cfg CircuitBreakerConfig, logger *slog.Logger) Middleware {
	if !cfg.Enabled() {
		return func(next Handler) Handler { return next }
	}
	cb := newCircuitBreaker(cfg, logger)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			release, err := cb.allow()
			if err != nil {
				return nil, err
			}
			defer release()

			resp, err := next.Handle(ctx, req)
			switch {
			case err == nil:
				cb.recordSuccess()
			case tripsBreaker(err):
				cb.recordFailure()
			}
			return resp, err
		})
	}
}

// tripsBreaker reports whether err indicates the provider itself is
// unhealthy. Caller mistakes and cancellations do not count.
func tripsBreaker(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeProvider, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) jitter() time.Duration {
	jit := cb.cfg.OpenTimeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	//nolint:gosec // jitter does not need a cryptographic source
	return time.Duration(rand.Int63n(int64(jit)))
}

// allow returns a release func that must run when the request finishes.
func (cb *circuitBreaker) allow() (func(), error) {
	state := CircuitState(cb.state.Load())
	if state == StateClosed {
		return func() {}, nil
	}

	if state == StateOpen {
		lastFailure := time.Unix(0, cb.lastFailureTime.Load())
		if cb.now().Sub(lastFailure) <= cb.cfg.OpenTimeout+cb.jitter() {
			return nil, ErrCircuitOpen
		}
		cb.transition(StateOpen, StateHalfOpen)
	}

	for {
		current := cb.halfOpenProbes.Load()
		if int(current) >= cb.cfg.HalfOpenProbes {
			return nil, ErrCircuitOpen
		}
		if cb.halfOpenProbes.CompareAndSwap(current, current+1) {
			return func() {
				for {
					cur := cb.halfOpenProbes.Load()
					if cur == 0 || cb.halfOpenProbes.CompareAndSwap(cur, cur-1) {
						return
					}
				}
			}, nil
		}
	}
}

func (cb *circuitBreaker) recordSuccess() {
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		if int(cb.successes.Add(1)) >= cb.cfg.SuccessThreshold {
			cb.transition(StateHalfOpen, StateClosed)
		}
	case StateOpen:
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(cb.now().UnixNano())

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if int(cb.failures.Add(1)) >= cb.cfg.FailureThreshold {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	case StateOpen:
	}
}

// transition moves from one state to another; a lost race is a no-op.
func (cb *circuitBreaker) transition(from, to CircuitState) {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.halfOpenProbes.Store(0)
	cb.logger.Info("circuit breaker state transition",
		"from", from.String(),
		"to", to.String())
}

// State returns the current position.
func (cb *circuitBreaker) State() CircuitState { return CircuitState(cb.state.Load()) }
