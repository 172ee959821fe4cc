package redis

import (
	"time"

	"github.com/dbplane/go-dbplane-common/breaker"
)

// OperationEvent is emitted once per CacheClient operation, whatever the
// outcome. This package defines the event shape; the transport (prometheus,
// log shipping) belongs to the sink.
type OperationEvent struct {
	Operation string
	Key       string
	Duration  time.Duration
	Success   bool
	Err       error
}

// Session outcomes reported to the observer by the SessionCache.
const (
	SessionHit   = "hit"
	SessionMiss  = "miss"
	SessionError = "error"
)

// Observer is the sink for the subsystem's structured events. Implementations
// must be cheap and non-blocking; they are called on the hot path.
type Observer interface {
	ObserveOperation(OperationEvent)
	ObserveBreakerTransition(breaker.Event)
	ObserveSessionOutcome(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(OperationEvent)        {}
func (noopObserver) ObserveBreakerTransition(breaker.Event) {}
func (noopObserver) ObserveSessionOutcome(string)           {}
