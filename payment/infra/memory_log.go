// Package infra contém o log de status de pagamento em memória do processo.
package infra

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"clinic-guards/payment/domain"
)

// MemoryLog implementa domain.Log com um histórico por pagamento.
//
// Cada histórico tem o próprio mutex; pagamentos diferentes nunca disputam lock.
type MemoryLog struct {
	logs sync.Map // domain.ID -> *history
	seq  atomic.Uint64
	log  *slog.Logger
}

type history struct {
	mu      sync.Mutex
	entries []domain.Entry
}

type Option func(*MemoryLog)

func WithLogger(l *slog.Logger) Option {
	return func(m *MemoryLog) { m.log = l }
}

func NewMemoryLog(opts ...Option) *MemoryLog {
	m := &MemoryLog{log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryLog) history(id domain.ID, create bool) *history {
	if !create {
		v, ok := m.logs.Load(id)
		if !ok {
			return nil
		}
		return v.(*history)
	}
	v, _ := m.logs.LoadOrStore(id, &history{})
	return v.(*history)
}

// Current implementa domain.Log.
func (m *MemoryLog) Current(id domain.ID) (domain.Entry, bool) {
	h := m.history(id, false)
	if h == nil {
		return domain.Entry{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.Latest(h.entries)
}

// History devolve uma cópia das entradas na ordem de inserção.
func (m *MemoryLog) History(id domain.ID) []domain.Entry {
	h := m.history(id, false)
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Transition implementa domain.Log.
func (m *MemoryLog) Transition(id domain.ID, target domain.Status, at time.Time) domain.Result {
	h := m.history(id, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := domain.Latest(h.entries)
	res := domain.Result{
		PaymentID: id,
		Status:    cur.Status,
		Previous:  cur.Status,
		Outcome:   domain.Decide(cur.Status, ok, target),
	}

	switch res.Outcome {
	case domain.Applied:
		// a entrada nova precisa ser a mais recente, senão o Result mente
		if ok && at.Before(cur.ChangedAt) {
			at = cur.ChangedAt
		}
		h.entries = append(h.entries, domain.Entry{
			PaymentID: id,
			Status:    target,
			ChangedAt: at,
			Seq:       m.seq.Add(1),
		})
		res.Status = target
		res.Applied = true
		m.log.Debug("payment status changed", "payment_id", int64(id), "from", string(cur.Status), "to", string(target))
	case domain.RefusedTerminal:
		m.log.Info("payment status change refused: terminal status",
			"payment_id", int64(id),
			"current", string(cur.Status),
			"target", string(target),
		)
	}
	return res
}

// Len conta os pagamentos com ao menos uma entrada.
func (m *MemoryLog) Len() int {
	n := 0
	m.logs.Range(func(_, v any) bool {
		h := v.(*history)
		h.mu.Lock()
		if len(h.entries) > 0 {
			n++
		}
		h.mu.Unlock()
		return true
	})
	return n
}
