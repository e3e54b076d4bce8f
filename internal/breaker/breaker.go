// Package breaker isolates failing external services. A Breaker fails fast
// once a dependency has failed Threshold times in a row and lets a single
// trial call through after Cooldown.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrServiceUnavailable is returned without calling the wrapped function while
// a breaker is open
var ErrServiceUnavailable = errors.New("service unavailable")

// Defaults
const (
	DefaultThreshold = 3
	DefaultCooldown  = 60 * time.Second
)

// State is the breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options configures a Breaker
type Options struct {
	Threshold int
	Cooldown  time.Duration
	// Now overrides the clock, for tests
	Now func() time.Time
	// OnStateChange is called, outside the lock, after every transition
	OnStateChange func(name string, from, to State)
}

// Status is a point-in-time view of a breaker
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Breaker is a circuit breaker for one external dependency
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool // a half-open trial call is in flight
}

// New creates a closed breaker
func New(name string, opts Options) *Breaker {
	if opts.Threshold < 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{
		name:      name,
		threshold: opts.Threshold,
		cooldown:  opts.Cooldown,
		now:       opts.Now,
		onChange:  opts.OnStateChange,
	}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn through b and returns its result
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}

	result, err := fn()
	b.release(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// acquire decides whether a call may proceed
func (b *Breaker) acquire() error {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrServiceUnavailable, b.name)
		}
		b.state = StateHalfOpen
		b.trial = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return nil
	default: // half-open
		if b.trial {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrServiceUnavailable, b.name)
		}
		b.trial = true
		b.mu.Unlock()
		return nil
	}
}

// release records the outcome of a call. A canceled context is not held
// against the dependency.
func (b *Breaker) release(err error) {
	b.mu.Lock()
	from := b.state
	b.trial = false

	switch {
	case err == nil:
		b.failures = 0
		b.state = StateClosed
	case errors.Is(err, context.Canceled):
		if b.state == StateHalfOpen {
			b.state = StateOpen
		}
	default:
		b.failures++
		b.lastFailure = b.now()
		if b.state == StateHalfOpen || b.failures >= b.threshold {
			b.state = StateOpen
		}
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has elapsed
// still reports open until the next call attempts it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of the breaker
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
	}
}

// Reset closes the breaker and clears its failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trial = false
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
