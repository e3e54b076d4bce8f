package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limit defaults for a local model backend
const (
	DefaultRequestsPerSecond = 4.0
	DefaultBurst             = 4
	DefaultBackoff           = 5 * time.Second
)

// Limiter is a token bucket shared by every model on one backend, with a
// backoff window after the backend reports it is overloaded.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewLimiter creates a limiter. Non-positive values take the defaults.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	if burst < 1 {
		burst = DefaultBurst
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request may be sent, honouring any backoff window
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.limiter.Wait(ctx)
}

// Backoff delays all requests for d
func (l *Limiter) Backoff(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.retryAt) {
		l.retryAt = until
	}
}

// Allow reports whether a request may be sent right now without blocking
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()
	if time.Now().Before(retryAt) {
		return false
	}
	return l.limiter.Allow()
}
