// Package circuit provides the circuit breaker the client wraps around
// backend round trips. A run of backend failures opens the breaker and
// short-circuits further calls until a cool-down elapses, so a
// struggling backend is probed rather than hammered.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/objectfs/msc/pkg/errors"
)

// State is the breaker's position.
type State int

const (
	// StateClosed: calls pass through.
	StateClosed State = iota
	// StateOpen: calls are rejected without reaching the backend.
	StateOpen
	// StateHalfOpen: a limited number of trial calls probe recovery.
	StateHalfOpen
)

func (s State) String() string {
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

// Config tunes a Breaker. Zero values take the defaults below.
type Config struct {
	// MaxRequests is how many trial calls may run while half-open.
	MaxRequests uint32
	// Interval resets the closed-state failure window.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// TripAfter is the consecutive-failure count that opens the breaker.
	TripAfter uint32
}

func (c *Config) applyDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.TripAfter == 0 {
		c.TripAfter = 5
	}
}

// counts is the failure bookkeeping for the current window.
type counts struct {
	requests            uint32
	consecutiveFailures uint32
	successes           uint32
}

// Breaker is a circuit breaker classifying outcomes by msc error kind:
// only backend-health failures (KindRetryable, KindRuntime) trip it.
// Semantic outcomes such as KindNotFound or KindPreconditionFailed are
// successes as far as backend health is concerned.
type Breaker struct {
	name string
	cfg  Config

	mu     sync.Mutex
	state  State
	counts counts
	expiry time.Time
}

// New constructs a Breaker named for the backend it guards.
func New(name string, cfg Config) *Breaker {
	cfg.applyDefaults()
	b := &Breaker{name: name, cfg: cfg, state: StateClosed}
	b.expiry = time.Now().Add(cfg.Interval)
	return b
}

// Name reports which backend this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State reports the breaker's current position, accounting for any
// open-state timeout that has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.currentState(time.Now())
	return s
}

// countsAsFailure reports whether err should trip the breaker.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errors.KindRetryable) || errors.Is(err, errors.KindRuntime)
}

// Execute runs fn through the breaker. When the breaker is open the
// call is rejected with a KindRetryable error so the client's retry
// wrapper backs off instead of failing terminally.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterRequest(!countsAsFailure(err))
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)

	if state == StateOpen {
		return errors.Retryable(nil, "circuit breaker "+b.name+" is open")
	}
	if state == StateHalfOpen && b.counts.requests >= b.cfg.MaxRequests {
		return errors.Retryable(nil, "circuit breaker "+b.name+" is probing")
	}
	b.counts.requests++
	return nil
}

func (b *Breaker) afterRequest(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, _ := b.currentState(now)
	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveFailures = 0
	case StateHalfOpen:
		b.counts.successes++
		if b.counts.successes >= b.cfg.MaxRequests {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.consecutiveFailures++
		if b.counts.consecutiveFailures >= b.cfg.TripAfter {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState advances open->half-open when the timeout has elapsed
// and rolls the closed-state window over at interval boundaries.
func (b *Breaker) currentState(now time.Time) (State, bool) {
	switch b.state {
	case StateClosed:
		if now.After(b.expiry) {
			b.counts = counts{}
			b.expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		if now.After(b.expiry) {
			b.setState(StateHalfOpen, now)
			return StateHalfOpen, true
		}
	}
	return b.state, false
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.counts = counts{}
	switch state {
	case StateClosed:
		b.expiry = now.Add(b.cfg.Interval)
	case StateOpen:
		b.expiry = now.Add(b.cfg.Timeout)
	}
}

// Reset forces the breaker closed and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.counts = counts{}
	b.expiry = time.Now().Add(b.cfg.Interval)
}
