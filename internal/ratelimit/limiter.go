// Package ratelimit bounds request throughput per caller with fixed-window
// counters. Each Limiter owns its counter store; limits are per gateway
// instance unless a shared Redis counter is injected.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Counter increments the hit count of key inside one window.
type Counter interface {
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// Clock provides time for window boundaries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits at most max requests per caller key in each window.
type Limiter struct {
	name    string
	window  time.Duration
	max     int
	counter Counter
	clock   Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter replaces the in-memory counter.
func WithCounter(counter Counter) Option {
	return func(l *Limiter) {
		if counter != nil {
			l.counter = counter
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New constructs a limiter named after its traffic class.
func New(name string, window time.Duration, limit int, opts ...Option) (*Limiter, error) {
	if name == "" {
		return nil, errors.New("ratelimit: empty limiter name")
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: %s: window must be positive", name)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: %s: limit must be positive", name)
	}
	l := &Limiter{name: name, window: window, max: limit, clock: systemClock{}}
	for _, opt := range opts {
		opt(l)
	}
	if l.counter == nil {
		l.counter = NewMemoryCounter()
	}
	return l, nil
}

// Name returns the traffic class.
func (l *Limiter) Name() string { return l.name }

// Now returns the current time on the limiter's clock.
func (l *Limiter) Now() time.Time { return l.clock.Now() }

// Admit counts one request for key. The returned error is only set when the
// counter store fails; a rejection is reported through Decision.Allowed.
func (l *Limiter) Admit(ctx context.Context, key string) (Decision, error) {
	now := l.clock.Now()
	windowStart := now.Truncate(l.window)
	decision := Decision{Limit: l.max, ResetAt: windowStart.Add(l.window)}

	count, err := l.counter.Increment(ctx, key, windowStart, l.window)
	if err != nil {
		return decision, fmt.Errorf("ratelimit: %s: %w", l.name, err)
	}

	decision.Allowed = count <= int64(l.max)
	if remaining := int64(l.max) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	return decision, nil
}
