// Package resilience guards calls to the remote learning service.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets a single probe call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the call while the breaker is open
// or while a half-open probe is already in flight.
var ErrOpen = errors.New("remote service unavailable: circuit open")

// Config configures a Breaker.
type Config struct {
	// Threshold is the number of consecutive counted failures that opens the breaker.
	// Default: 5
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30 seconds
	Cooldown time.Duration

	// Counts decides whether an error counts toward Threshold.
	// Nil counts every non-nil error.
	Counts func(error) bool

	// OnChange is invoked synchronously, outside the lock, after each transition.
	OnChange func(from, to State)

	now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current position, moving Open to HalfOpen once the cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = Closed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	b.notify(from, Closed)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	from := b.state
	allowed := false

	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = HalfOpen
			b.probing = true
			allowed = true
		}
	case HalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *Breaker) record(err error) {
	counted := err != nil
	if counted && b.cfg.Counts != nil {
		counted = b.cfg.Counts(err)
	}

	b.mu.Lock()
	from := b.state

	switch b.state {
	case Closed:
		if counted {
			b.failures++
			if b.failures >= b.cfg.Threshold {
				b.trip()
			}
		} else {
			b.failures = 0
		}
	case HalfOpen:
		b.probing = false
		if counted {
			b.trip()
		} else {
			b.state = Closed
			b.failures = 0
		}
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// trip opens the breaker. Must be called with mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.cfg.now()
	b.failures = 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}
