package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-guards/middleware/ratelimit/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestWindowStore_AllowsUpToLimitThenRejects(t *testing.T) {
	clock := newFakeClock()
	s := NewWindowStore(100, 60*time.Second, WithWindowNow(clock.Now))

	for i := 1; i <= 100; i++ {
		dec := s.Consume("203.0.113.5")
		if !dec.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if dec.Remaining != 100-i {
			t.Fatalf("expected remaining=%d at request %d, got %d", 100-i, i, dec.Remaining)
		}
		clock.Advance(100 * time.Millisecond)
	}

	dec := s.Consume("203.0.113.5")
	if dec.Allowed {
		t.Fatalf("expected 101st request to be rejected")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > 60*time.Second {
		t.Fatalf("expected 0 < RetryAfter <= 60s, got %s", dec.RetryAfter)
	}
	// 100 requisições avançaram 10s
	if dec.RetryAfter != 50*time.Second {
		t.Fatalf("expected RetryAfter=50s, got %s", dec.RetryAfter)
	}

	clock.Advance(dec.RetryAfter)
	dec = s.Consume("203.0.113.5")
	if !dec.Allowed {
		t.Fatalf("expected request after window to be allowed")
	}
	w, ok := s.Peek("203.0.113.5")
	if !ok || w.Count != 1 || !w.Start.Equal(clock.Now()) {
		t.Fatalf("expected fresh window starting now with count=1, got %+v ok=%v", w, ok)
	}
}

func TestWindowStore_KeysAreIndependent(t *testing.T) {
	s := NewWindowStore(1, time.Minute)

	if !s.Consume("a").Allowed {
		t.Fatalf("expected a allowed")
	}
	if s.Consume("a").Allowed {
		t.Fatalf("expected second a rejected")
	}
	if !s.Consume("b").Allowed {
		t.Fatalf("expected b allowed regardless of a")
	}
}

func TestWindowStore_ResetAndClear(t *testing.T) {
	s := NewWindowStore(1, time.Minute)
	s.Consume("a")
	s.Consume("b")

	s.Reset("a")
	if !s.Consume("a").Allowed {
		t.Fatalf("expected a allowed after reset")
	}
	if s.Consume("b").Allowed {
		t.Fatalf("expected b still limited")
	}

	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected no windows after clear, got %d", s.Len())
	}
	if !s.Consume("b").Allowed {
		t.Fatalf("expected b allowed after clear")
	}
}

func TestWindowStore_CleanupRemovesOnlyStaleWindows(t *testing.T) {
	clock := newFakeClock()
	s := NewWindowStore(5, time.Minute, WithWindowNow(clock.Now))

	s.Consume("old")
	clock.Advance(45 * time.Second)
	s.Consume("fresh")
	clock.Advance(20 * time.Second)

	s.Cleanup()

	if _, ok := s.Peek("old"); ok {
		t.Fatalf("expected stale window removed")
	}
	if w, ok := s.Peek("fresh"); !ok || w.Count != 1 {
		t.Fatalf("expected fresh window kept, got %+v ok=%v", w, ok)
	}
	if !s.Consume("old").Allowed {
		t.Fatalf("expected removed key to start a new window")
	}
}

func TestWindowStore_ConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	const limit = 50
	s := NewWindowStore(limit, time.Hour)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Consume("same").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Fatalf("expected exactly %d allowed, got %d", limit, got)
	}
}

func TestWindowStore_ConsumeRacingCleanupStaysConsistent(t *testing.T) {
	clock := newFakeClock()
	s := NewWindowStore(1000, time.Second, WithWindowNow(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s.Cleanup()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !s.Consume(domain.Key("k")).Allowed {
					t.Errorf("unexpected rejection under limit")
					return
				}
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	w, ok := s.Peek("k")
	if !ok || w.Count != 800 {
		t.Fatalf("expected single window with 800 requests, got %+v ok=%v", w, ok)
	}
}
