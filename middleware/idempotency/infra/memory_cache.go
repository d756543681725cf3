// Package infra contém o cache de idempotência em memória do processo.
package infra

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"clinic-guards/middleware/idempotency/domain"
	"clinic-guards/middleware/janitor"
)

// MemoryCache implementa domain.Cache.
//
// Cada chave aponta para um *domain.Record imutável; toda transição
// (reservar, concluir, liberar, expirar) é um CAS no sync.Map da própria chave.
// Registros vencidos somem na próxima consulta ou no Sweep periódico.
type MemoryCache struct {
	records sync.Map // key -> *domain.Record

	ttl            time.Duration
	reservationTTL time.Duration
	sweepEvery     time.Duration
	now            func() time.Time
	log            *slog.Logger
}

type Option func(*MemoryCache)

// WithTTL define por quanto tempo uma resposta concluída é repetida.
func WithTTL(d time.Duration) Option {
	return func(c *MemoryCache) { c.ttl = d }
}

// WithReservationTTL limita quanto tempo uma reserva sem Store/Release segura a
// chave (ex.: processo de quem reservou travou no meio).
//
// Depois desse prazo um retry com a mesma chave volta a receber Proceed, então
// d deve ser maior que o write timeout do servidor que executa a escrita.
func WithReservationTTL(d time.Duration) Option {
	return func(c *MemoryCache) { c.reservationTTL = d }
}

func WithSweepEvery(d time.Duration) Option {
	return func(c *MemoryCache) { c.sweepEvery = d }
}

func WithNow(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *MemoryCache) { c.log = l }
}

func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		ttl:            24 * time.Hour,
		reservationTTL: time.Minute,
		sweepEvery:     10 * time.Minute,
		now:            time.Now,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) expired(rec *domain.Record, now time.Time) bool {
	ttl := c.ttl
	if rec.Pending() {
		ttl = c.reservationTTL
	}
	return now.Sub(rec.CreatedAt) >= ttl
}

// LookupOrReserve implementa domain.Cache.
func (c *MemoryCache) LookupOrReserve(key, fingerprint string) domain.Lookup {
	now := c.now()
	reserved := &domain.Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}

	for {
		v, loaded := c.records.LoadOrStore(key, reserved)
		if !loaded {
			return domain.Lookup{Outcome: domain.Proceed}
		}
		rec := v.(*domain.Record)

		if c.expired(rec, now) {
			if c.records.CompareAndSwap(key, rec, reserved) {
				return domain.Lookup{Outcome: domain.Proceed}
			}
			continue
		}

		if rec.Fingerprint != fingerprint {
			c.log.Info("idempotency key reused with different body", "key", key)
			return domain.Lookup{Outcome: domain.Conflict}
		}
		if rec.Pending() {
			return domain.Lookup{Outcome: domain.InProgress}
		}

		resp := *rec.Response
		resp.Body = bytes.Clone(resp.Body)
		return domain.Lookup{Outcome: domain.Replay, Response: resp}
	}
}

// Store grava o resultado da escrita reservada por LookupOrReserve.
//
// Um registro concluído nunca é sobrescrito; a reserva só é trocada se for do
// mesmo corpo.
func (c *MemoryCache) Store(key, fingerprint string, resp domain.CachedResponse) {
	resp.Body = bytes.Clone(resp.Body)
	done := &domain.Record{
		Key:         key,
		Fingerprint: fingerprint,
		Response:    &resp,
		CreatedAt:   c.now(),
	}

	for {
		v, loaded := c.records.LoadOrStore(key, done)
		if !loaded {
			return
		}
		rec := v.(*domain.Record)
		if !rec.Pending() || rec.Fingerprint != fingerprint {
			c.log.Warn("idempotency record not stored: key already taken", "key", key)
			return
		}
		if c.records.CompareAndSwap(key, rec, done) {
			return
		}
	}
}

// Release desfaz a reserva (a escrita falhou e pode ser tentada de novo).
func (c *MemoryCache) Release(key, fingerprint string) {
	v, ok := c.records.Load(key)
	if !ok {
		return
	}
	rec := v.(*domain.Record)
	if rec.Pending() && rec.Fingerprint == fingerprint {
		c.records.CompareAndDelete(key, rec)
	}
}

// Get devolve o registro vivo da chave, sem reservar nada.
func (c *MemoryCache) Get(key string) (domain.Record, bool) {
	v, ok := c.records.Load(key)
	if !ok {
		return domain.Record{}, false
	}
	rec := v.(*domain.Record)
	if c.expired(rec, c.now()) {
		return domain.Record{}, false
	}
	return *rec, true
}

// Len conta os registros guardados, inclusive vencidos ainda não varridos.
func (c *MemoryCache) Len() int {
	n := 0
	c.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep remove registros vencidos e devolve quantos saíram.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	removed := 0
	c.records.Range(func(k, v any) bool {
		if c.expired(v.(*domain.Record), now) && c.records.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	if removed > 0 {
		c.log.Debug("expired idempotency records swept", "removed", removed)
	}
	return removed
}

// StartJanitor roda Sweep a cada sweepEvery até o contexto encerrar.
func (c *MemoryCache) StartJanitor(ctx janitor.DoneContext) {
	janitor.Start(ctx, c.sweepEvery, func() { c.Sweep() })
}
