package infra

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-guards/middleware/idempotency/domain"
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

func newTestCache(clock *fakeClock, opts ...Option) *MemoryCache {
	base := []Option{
		WithTTL(24 * time.Hour),
		WithReservationTTL(time.Minute),
		WithNow(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewMemoryCache(append(base, opts...)...)
}

func created42() domain.CachedResponse {
	return domain.CachedResponse{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"id":42}`)}
}

func TestMemoryCache_ReplayAndConflict(t *testing.T) {
	c := newTestCache(newFakeClock())
	h1 := domain.Fingerprint([]byte(`{"amount":100}`))
	h2 := domain.Fingerprint([]byte(`{"amount":999}`))

	if got := c.LookupOrReserve("abc-123", h1); got.Outcome != domain.Proceed {
		t.Fatalf("expected proceed on first use, got %s", got.Outcome)
	}
	c.Store("abc-123", h1, created42())

	for i := 0; i < 2; i++ {
		got := c.LookupOrReserve("abc-123", h1)
		if got.Outcome != domain.Replay {
			t.Fatalf("expected replay, got %s", got.Outcome)
		}
		if got.Response.StatusCode != 201 || string(got.Response.Body) != `{"id":42}` {
			t.Fatalf("unexpected replayed response: %+v", got.Response)
		}
	}

	got := c.LookupOrReserve("abc-123", h2)
	if got.Outcome != domain.Conflict {
		t.Fatalf("expected conflict for different body, got %s", got.Outcome)
	}
	if got.Response.Body != nil {
		t.Fatalf("expected no response body on conflict, got %s", got.Response.Body)
	}

	// o conflito não apaga o registro original
	if again := c.LookupOrReserve("abc-123", h1); again.Outcome != domain.Replay {
		t.Fatalf("expected original record kept after conflict, got %s", again.Outcome)
	}
}

func TestMemoryCache_ReplayReturnsCopy(t *testing.T) {
	c := newTestCache(newFakeClock())
	fp := domain.Fingerprint([]byte("x"))
	c.LookupOrReserve("k", fp)

	resp := created42()
	c.Store("k", fp, resp)
	resp.Body[0] = 'X'

	got := c.LookupOrReserve("k", fp)
	got.Response.Body[1] = 'Y'

	again := c.LookupOrReserve("k", fp)
	if string(again.Response.Body) != `{"id":42}` {
		t.Fatalf("expected stored body isolated from callers, got %s", again.Response.Body)
	}
}

func TestMemoryCache_ExpiredRecordProceedsAsNew(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	fp := domain.Fingerprint([]byte("a"))

	c.LookupOrReserve("k", fp)
	c.Store("k", fp, created42())

	clock.Advance(24*time.Hour - time.Second)
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.Replay {
		t.Fatalf("expected replay before ttl, got %s", got.Outcome)
	}

	clock.Advance(time.Second)
	other := domain.Fingerprint([]byte("b"))
	if got := c.LookupOrReserve("k", other); got.Outcome != domain.Proceed {
		t.Fatalf("expected proceed after ttl even with another body, got %s", got.Outcome)
	}
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected fresh reservation visible")
	}
}

func TestMemoryCache_PendingIsInProgress(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	fp := domain.Fingerprint([]byte("a"))

	c.LookupOrReserve("k", fp)
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.InProgress {
		t.Fatalf("expected in progress while first request runs, got %s", got.Outcome)
	}
	if got := c.LookupOrReserve("k", domain.Fingerprint([]byte("b"))); got.Outcome != domain.Conflict {
		t.Fatalf("expected conflict against pending reservation, got %s", got.Outcome)
	}

	// reserva abandonada vence pelo reservationTTL
	clock.Advance(time.Minute)
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.Proceed {
		t.Fatalf("expected abandoned reservation to expire, got %s", got.Outcome)
	}
}

func TestMemoryCache_ReleaseAllowsRetry(t *testing.T) {
	c := newTestCache(newFakeClock())
	fp := domain.Fingerprint([]byte("a"))

	c.LookupOrReserve("k", fp)
	c.Release("k", domain.Fingerprint([]byte("other")))
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.InProgress {
		t.Fatalf("expected release with another fingerprint to be ignored, got %s", got.Outcome)
	}

	c.Release("k", fp)
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.Proceed {
		t.Fatalf("expected proceed after release, got %s", got.Outcome)
	}

	// release não apaga registro concluído
	c.Store("k", fp, created42())
	c.Release("k", fp)
	if got := c.LookupOrReserve("k", fp); got.Outcome != domain.Replay {
		t.Fatalf("expected completed record kept after release, got %s", got.Outcome)
	}
}

func TestMemoryCache_StoreNeverOverwrites(t *testing.T) {
	c := newTestCache(newFakeClock())
	fp := domain.Fingerprint([]byte("a"))

	c.LookupOrReserve("k", fp)
	c.Store("k", fp, created42())
	c.Store("k", fp, domain.CachedResponse{StatusCode: 201, Body: []byte(`{"id":43}`)})
	c.Store("k", domain.Fingerprint([]byte("b")), domain.CachedResponse{StatusCode: 201, Body: []byte(`{"id":44}`)})

	got := c.LookupOrReserve("k", fp)
	if got.Outcome != domain.Replay || string(got.Response.Body) != `{"id":42}` {
		t.Fatalf("expected first stored response kept, got %s %s", got.Outcome, got.Response.Body)
	}
}

func TestMemoryCache_SweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock)
	fp := domain.Fingerprint([]byte("a"))

	c.LookupOrReserve("done", fp)
	c.Store("done", fp, created42())
	c.LookupOrReserve("stuck", fp)

	clock.Advance(2 * time.Minute)
	c.LookupOrReserve("fresh", fp)

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected only the stuck reservation swept, got %d", removed)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 records left, got %d", c.Len())
	}

	clock.Advance(24 * time.Hour)
	if removed := c.Sweep(); removed != 2 {
		t.Fatalf("expected remaining records swept after ttl, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestMemoryCache_ConcurrentFirstRequestsOnlyOneProceeds(t *testing.T) {
	c := newTestCache(newFakeClock())
	fp := domain.Fingerprint([]byte(`{"amount":100}`))

	var (
		wg       sync.WaitGroup
		proceeds atomic.Int64
		inFlight atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch c.LookupOrReserve("abc-123", fp).Outcome {
			case domain.Proceed:
				proceeds.Add(1)
			case domain.InProgress:
				inFlight.Add(1)
			}
		}()
	}
	wg.Wait()

	if proceeds.Load() != 1 {
		t.Fatalf("expected exactly one writer, got %d", proceeds.Load())
	}
	if inFlight.Load() != 63 {
		t.Fatalf("expected the rest to see in progress, got %d", inFlight.Load())
	}
}

func TestMemoryCache_StartJanitorStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(clock, WithSweepEvery(time.Millisecond))
	c.LookupOrReserve("stuck", "fp")
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	c.StartJanitor(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("janitor did not sweep expired record")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
}
