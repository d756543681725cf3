package infra

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-guards/middleware/ratelimit/domain"
)

func TestTokenBucketStore_SameKeyReusesLimiter(t *testing.T) {
	s := NewTokenBucketStore(10, 1)

	l1 := s.limiter(domain.Key("k"), time.Now())
	l2 := s.limiter(domain.Key("k"), time.Now())
	if l1 != l2 {
		t.Fatalf("expected same limiter pointer for same key")
	}
}

func TestTokenBucketStore_LowBurstRejectsSecondImmediateConsume(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTokenBucketStore(0.5, 1, WithTokenNow(func() time.Time { return now }))

	if dec := s.Consume("k"); !dec.Allowed {
		t.Fatalf("expected first Consume to be allowed")
	}
	dec := s.Consume("k")
	if dec.Allowed {
		t.Fatalf("expected second immediate Consume to be rejected (burst=1)")
	}
	// 0.5 rps => próximo token em 2s
	if dec.RetryAfter != 2*time.Second {
		t.Fatalf("expected RetryAfter=2s, got %s", dec.RetryAfter)
	}

	now = now.Add(2 * time.Second)
	if dec := s.Consume("k"); !dec.Allowed {
		t.Fatalf("expected Consume after refill to be allowed")
	}
}

func TestTokenBucketStore_CleanupRemovesIdleEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTokenBucketStore(10, 1,
		WithIdleTTL(time.Minute),
		WithCleanupEvery(0),
		WithTokenNow(func() time.Time { return now }),
	)

	before := s.limiter(domain.Key("k"), now)
	now = now.Add(2 * time.Minute)

	s.Cleanup()

	after := s.limiter(domain.Key("k"), now)
	if before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}

func TestTokenBucketStore_ResetDropsKey(t *testing.T) {
	s := NewTokenBucketStore(0.01, 1)
	s.Consume("k")
	if dec := s.Consume("k"); dec.Allowed {
		t.Fatalf("expected rejection before reset")
	}
	s.Reset("k")
	if dec := s.Consume("k"); !dec.Allowed {
		t.Fatalf("expected allowed after reset")
	}
}

func TestTokenBucketStore_ConcurrentConsumeHonoursBurstPerKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTokenBucketStore(0.001, 5, WithTokenNow(func() time.Time { return now }))

	keys := []domain.Key{"a", "b", "c", "d"}
	allowed := make([]atomic.Int64, len(keys))
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := i % len(keys)
			if s.Consume(keys[k]).Allowed {
				allowed[k].Add(1)
			}
		}(i)
	}
	wg.Wait()

	for i := range keys {
		if got := allowed[i].Load(); got != 5 {
			t.Fatalf("expected burst of 5 allowed for %q, got %d", keys[i], got)
		}
	}
}
