package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"clinic-guards/middleware/janitor"
	"clinic-guards/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucketStore é a estratégia alternativa ao WindowStore, baseada em
// token-bucket (x/time/rate), com cache por chave e limpeza periódica.
//
// Cada chave tem a própria entrada no sync.Map; o rate.Limiter já é seguro
// para uso concorrente, então chaves diferentes nunca disputam lock.
type TokenBucketStore struct {
	entries      sync.Map // domain.Key -> *bucketEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

type TokenOption func(*TokenBucketStore)

func WithIdleTTL(d time.Duration) TokenOption {
	return func(s *TokenBucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) TokenOption {
	return func(s *TokenBucketStore) { s.cleanupEvery = d }
}

func WithTokenNow(now func() time.Time) TokenOption {
	return func(s *TokenBucketStore) { s.now = now }
}

func NewTokenBucketStore(rps float64, burst int, opts ...TokenOption) *TokenBucketStore {
	s := &TokenBucketStore{
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume implementa domain.LimiterStore.
//
// Quando não há token, a reserva é cancelada e o atraso dela vira o
// RetryAfter da decisão.
func (s *TokenBucketStore) Consume(key domain.Key) domain.Decision {
	now := s.now()
	lim := s.limiter(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return domain.Decision{Allowed: false, Limit: s.burst}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return domain.Decision{Allowed: false, Limit: s.burst, RetryAfter: d}
	}

	rem := int(lim.TokensAt(now))
	if rem < 0 {
		rem = 0
	}
	return domain.Decision{Allowed: true, Limit: s.burst, Remaining: rem}
}

func (s *TokenBucketStore) limiter(key domain.Key, now time.Time) *rate.Limiter {
	v, ok := s.entries.Load(key)
	if !ok {
		v, _ = s.entries.LoadOrStore(key, &bucketEntry{lim: rate.NewLimiter(s.rps, s.burst)})
	}
	ent := v.(*bucketEntry)
	ent.lastSeen.Store(now.UnixNano())
	return ent.lim
}

func (s *TokenBucketStore) Reset(key domain.Key) {
	s.entries.Delete(key)
}

func (s *TokenBucketStore) Clear() {
	s.entries.Clear()
}

// Cleanup remove chaves sem uso há mais de idleTTL. Um bucket parado esse
// tempo já está cheio, então recriá-lo no próximo Consume dá no mesmo.
func (s *TokenBucketStore) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL).UnixNano()
	s.entries.Range(func(k, v any) bool {
		if v.(*bucketEntry).lastSeen.Load() < cutoff {
			s.entries.CompareAndDelete(k, v)
		}
		return true
	})
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *TokenBucketStore) StartJanitor(ctx janitor.DoneContext) {
	janitor.Start(ctx, s.cleanupEvery, s.Cleanup)
}
