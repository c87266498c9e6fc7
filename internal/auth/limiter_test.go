package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFixedWindowRejectsAttempt101(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewFixedWindowLimiter(15*time.Minute, 100, WithLimiterClock(clock.Now))

	for i := 1; i <= 100; i++ {
		if !l.Allow("198.51.100.7") {
			t.Fatalf("attempt %d rejected", i)
		}
	}
	if l.Allow("198.51.100.7") {
		t.Fatalf("attempt 101 allowed")
	}
	if !l.Allow("198.51.100.8") {
		t.Fatalf("other source should not be limited")
	}

	clock.Advance(14 * time.Minute)
	if l.Allow("198.51.100.7") {
		t.Fatalf("allowed before window elapsed")
	}
	clock.Advance(time.Minute)
	if !l.Allow("198.51.100.7") {
		t.Fatalf("expected reset after window")
	}
}

func TestFixedWindowSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewFixedWindowLimiter(time.Minute, 5, WithLimiterClock(clock.Now))
	l.Allow("a")
	clock.Advance(30 * time.Second)
	l.Allow("b")
	clock.Advance(45 * time.Second)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected one expired bucket, removed %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected one live bucket, have %d", l.Len())
	}
}

func TestFixedWindowConcurrent(t *testing.T) {
	l := NewFixedWindowLimiter(time.Hour, 50)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("203.0.113.1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 50 {
		t.Fatalf("expected exactly 50 allowed, got %d", allowed.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := NewFixedWindowLimiter(time.Minute, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
