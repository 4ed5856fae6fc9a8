package generation

import (
	"github.com/ahrav/go-sweep/internal/domain"
)

// Observer is notified once per persisted response. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	ObserveResponse(resp *domain.Response)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(resp *domain.Response)

// ObserveResponse calls f(resp).
func (f ObserverFunc) ObserveResponse(resp *domain.Response) { f(resp) }

// NoOpObserver discards every notification.
type NoOpObserver struct{}

// ObserveResponse does nothing.
func (NoOpObserver) ObserveResponse(*domain.Response) {}
