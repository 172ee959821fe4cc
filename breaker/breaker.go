package breaker

// A circuit breaker for calls to a single backend target. The breaker exists
// to protect the process from a slow or failed backend, and to protect the
// backend itself from load while it recovers.
//
// The state machine is the classic one:
//
//	CLOSED    -> OPEN       when consecutive failures reach FailureThreshold
//	OPEN      -> HALF_OPEN  once ResetTimeout has elapsed since opening
//	HALF_OPEN -> CLOSED     on a successful probe call
//	HALF_OPEN -> OPEN       on a failed probe call (the timer restarts)
//
// While OPEN, Execute fails immediately with ErrCircuitOpen and the wrapped
// operation is never invoked. In HALF_OPEN exactly one caller is admitted as
// the probe; concurrent callers are rejected with ErrCircuitOpen rather than
// queued, so a recovering backend sees at most one request.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dbplane/go-dbplane-common/logger"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Event describes a single state transition. Events are delivered
// synchronously from the goroutine that caused the transition.
type Event struct {
	Name string
	From State
	To   State
	At   time.Time
}

type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed.
	ResetTimeout time.Duration
	// ProbeTimeout bounds the probe call. Zero means the caller's context
	// deadline applies unchanged.
	ProbeTimeout time.Duration
	// OnStateChange, if set, is invoked for every transition.
	OnStateChange func(Event)
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
)

type Breaker struct {
	name string
	cfg  Config
	log  logger.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

type Option func(*Breaker)

func WithLogger(log logger.Logger) Option {
	return func(b *Breaker) {
		b.log = log
	}
}

func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		state: Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Sugar
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. The state can change immediately after
// this returns; use it for reporting, not for admission decisions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Execute runs op under the breaker. If the circuit is open, or a probe is
// already in flight, op is not invoked and ErrCircuitOpen is returned. The
// error from op is returned unchanged so callers can apply their own
// fallback policy.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	if probe && b.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ProbeTimeout)
		defer cancel()
	}

	err = op(ctx)
	b.record(probe, err)
	return err
}

// admit decides whether the caller may proceed, and whether it is the probe.
// The half-open single-probe guard is taken under the same lock as the state
// so there is no check-then-act window.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil

	case Open:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.transition(HalfOpen)
		b.probeInFlight = true
		return true, nil

	case HalfOpen:
		if b.probeInFlight {
			return false, ErrCircuitOpen
		}
		b.probeInFlight = true
		return true, nil
	}
	return false, ErrCircuitOpen
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if err != nil {
			b.openedAt = time.Now()
			b.transition(Open)
			return
		}
		b.consecutiveFailures = 0
		b.transition(Closed)
		return
	}

	// A non-probe result only moves the counters while the circuit is still
	// closed. Results that straggle in after the circuit opened are ignored.
	if b.state != Closed {
		return
	}

	if err == nil {
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.openedAt = time.Now()
		b.transition(Open)
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	event := Event{
		Name: b.name,
		From: from,
		To:   to,
		At:   time.Now(),
	}
	b.log.Infof("breaker %s: %s -> %s", b.name, from, to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(event)
	}
}
