package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryRecorder_CountsByGuardRouteAndKey(t *testing.T) {
	rec := NewMemoryRecorder(WithTrackKeys(true))
	ctx := context.Background()

	_ = rec.Record(ctx, Event{Guard: GuardRateLimit, Key: "1.2.3.4", Outcome: OutcomeAllowed, Method: "GET", Path: "/x"})
	_ = rec.Record(ctx, Event{Guard: GuardRateLimit, Key: "1.2.3.4", Outcome: OutcomeRejected, Method: "GET", Path: "/x"})
	_ = rec.Record(ctx, Event{Guard: GuardIdempotency, Key: "abc", Outcome: "replay", Method: "POST", Path: "/payments"})

	rl := rec.Guard(GuardRateLimit)
	if rl[OutcomeAllowed] != 1 || rl[OutcomeRejected] != 1 {
		t.Fatalf("unexpected ratelimit counters: %v", rl)
	}
	if got := rec.ByRoute()["POST /payments"]["replay"]; got != 1 {
		t.Fatalf("expected 1 replay on route, got %d", got)
	}
	if got := rec.ByKey()["ratelimit:1.2.3.4"][OutcomeRejected]; got != 1 {
		t.Fatalf("expected 1 rejected for key, got %d", got)
	}
}

func TestMemoryRecorder_GuardReturnsCopy(t *testing.T) {
	rec := NewMemoryRecorder()
	_ = rec.Record(context.Background(), Event{Guard: GuardSession, Outcome: "absent"})

	c := rec.Guard(GuardSession)
	c["absent"] = 99

	if got := rec.Guard(GuardSession)["absent"]; got != 1 {
		t.Fatalf("expected internal counter untouched, got %d", got)
	}
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, Event) error {
	f.calls++
	return errors.New("boom")
}

func TestRecord_IgnoresErrorsAndNilRecorder(t *testing.T) {
	Record(context.Background(), nil, Event{Guard: GuardSession})

	f := &failingRecorder{}
	Record(context.Background(), f, Event{Guard: GuardSession})
	if f.calls != 1 {
		t.Fatalf("expected recorder to be called once, got %d", f.calls)
	}
}

func TestRedisRecorder_WritesTotalsBucketsAndRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	rec := NewRedisRecorder(rdb, WithPrefix("test:"), WithTTL(time.Hour), WithRedisTrackKeys(true))
	at := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := rec.Record(ctx, Event{Guard: GuardRateLimit, Key: "10.0.0.1", Outcome: OutcomeAllowed, Method: "GET", Path: "/x", At: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := rec.Record(ctx, Event{Guard: GuardRateLimit, Key: "10.0.0.1", Outcome: OutcomeRejected, At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if got := mr.HGet("test:ratelimit:total", "allowed"); got != "2" {
		t.Fatalf("expected total allowed=2, got %q", got)
	}
	if got := mr.HGet("test:ratelimit:total", "rejected"); got != "1" {
		t.Fatalf("expected total rejected=1, got %q", got)
	}
	if got := mr.HGet("test:ratelimit:minute:202603041015", "allowed"); got != "2" {
		t.Fatalf("expected minute bucket allowed=2, got %q", got)
	}
	if ttl := mr.TTL("test:ratelimit:minute:202603041015"); ttl != time.Hour {
		t.Fatalf("expected bucket ttl 1h, got %s", ttl)
	}
	if got := mr.HGet("test:ratelimit:route", "GET /x:allowed"); got != "2" {
		t.Fatalf("expected route counter 2, got %q", got)
	}
	if got := mr.HGet("test:ratelimit:key:10.0.0.1", "rejected"); got != "1" {
		t.Fatalf("expected key counter 1, got %q", got)
	}
	if mr.Exists("test:ratelimit:total") && mr.TTL("test:ratelimit:total") != 0 {
		t.Fatalf("expected total to never expire")
	}
}

func TestRedisRecorder_BucketNoneSkipsTimeSeries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	rec := NewRedisRecorder(rdb, WithBucket("none"))
	at := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	if err := rec.Record(context.Background(), Event{Guard: GuardSession, Outcome: "absent", At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if mr.Exists("guards:stats:session:minute:202603041015") {
		t.Fatalf("expected no minute bucket with bucket=none")
	}
	if got := mr.HGet("guards:stats:session:total", "absent"); got != "1" {
		t.Fatalf("expected total absent=1, got %q", got)
	}
}

func TestRedisRecorder_NilIsNoop(t *testing.T) {
	var rec *RedisRecorder
	if err := rec.Record(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
