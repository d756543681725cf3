// Package stats registra as decisões dos guards (rate limit, sessão,
// idempotência, status de pagamento) para observação.
//
// O registro é best-effort: um erro do Recorder nunca derruba a request.
package stats

import (
	"context"
	"time"
)

type Guard string

const (
	GuardRateLimit     Guard = "ratelimit"
	GuardSession       Guard = "session"
	GuardIdempotency   Guard = "idempotency"
	GuardPaymentStatus Guard = "payment_status"
)

// Outcome é o resultado de uma decisão. Cada guard usa o seu próprio conjunto
// (ex.: "allowed"/"rejected", "replay"/"conflict", "applied"/"refused_terminal").
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeRejected Outcome = "rejected"
)

// Event representa uma decisão de um guard.
//
// Ele é "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de chaves em uma base como Redis).
type Event struct {
	Guard   Guard
	Key     string
	Outcome Outcome

	Method string
	Path   string

	At time.Time
}

// Recorder é a estratégia de persistência para as estatísticas.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Record envia o evento ao recorder, se houver, ignorando erros.
func Record(ctx context.Context, rec Recorder, ev Event) {
	if rec == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_ = rec.Record(ctx, ev)
}
