package auth

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLoginWindow   = 15 * time.Minute
	DefaultLoginAttempts = 100
)

// Limiter decides whether another attempt from key is allowed.
type Limiter interface {
	Allow(key string) bool
}

// FixedWindowLimiter counts attempts per key in fixed windows. Every attempt
// counts, successful or not. State lives in memory and is lost on restart.
type FixedWindowLimiter struct {
	window   time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count int
	reset time.Time
}

// LimiterOption configures FixedWindowLimiter.
type LimiterOption func(*FixedWindowLimiter)

// WithLimiterClock overrides the time source.
func WithLimiterClock(fn func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

func NewFixedWindowLimiter(window time.Duration, capacity int, opts ...LimiterOption) *FixedWindowLimiter {
	if window <= 0 {
		window = DefaultLoginWindow
	}
	if capacity <= 0 {
		capacity = DefaultLoginAttempts
	}
	l := &FixedWindowLimiter{
		window:   window,
		capacity: capacity,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FixedWindowLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(l.window)}
		l.buckets[key] = b
	}
	if b.count >= l.capacity {
		return false
	}
	b.count++
	return true
}

// Sweep drops buckets whose window has elapsed and returns how many were removed.
func (l *FixedWindowLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.reset) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps expired buckets every interval until ctx is cancelled.
func (l *FixedWindowLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
