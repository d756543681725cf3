package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"clinic-guards/middleware/janitor"
	"clinic-guards/middleware/ratelimit/domain"
)

// WindowStore implementa janela fixa por chave.
//
// Cada chave tem um slot com um ponteiro atômico para uma domain.Window
// imutável. Consume faz ler-checar-incrementar-ou-substituir com
// compare-and-swap no slot da própria chave: chaves diferentes nunca
// disputam o mesmo lock.
type WindowStore struct {
	slots sync.Map // domain.Key -> *windowSlot

	limit        int
	window       time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type windowSlot struct {
	cur atomic.Pointer[domain.Window]
}

// removedWindow marca um slot que o Cleanup tirou do mapa.
var removedWindow = &domain.Window{}

type WindowOption func(*WindowStore)

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

// WithWindowNow troca o relógio (testes).
func WithWindowNow(now func() time.Time) WindowOption {
	return func(s *WindowStore) { s.now = now }
}

// NewWindowStore cria um store que permite `limit` requisições por `window`.
func NewWindowStore(limit int, window time.Duration, opts ...WindowOption) *WindowStore {
	s := &WindowStore{
		limit:        limit,
		window:       window,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WindowStore) Limit() int            { return s.limit }
func (s *WindowStore) Window() time.Duration { return s.window }

// Consume implementa domain.LimiterStore.
func (s *WindowStore) Consume(key domain.Key) domain.Decision {
	now := s.now()

	for {
		slot := s.slot(key)
		if dec, ok := s.consume(slot, now); ok {
			return dec
		}
		// slot removido pelo Cleanup; tira do mapa (se ainda estiver) e recomeça.
		s.slots.CompareAndDelete(key, slot)
	}
}

func (s *WindowStore) slot(key domain.Key) *windowSlot {
	v, ok := s.slots.Load(key)
	if !ok {
		v, _ = s.slots.LoadOrStore(key, &windowSlot{})
	}
	return v.(*windowSlot)
}

// consume devolve ok=false quando o slot já foi marcado como removido.
func (s *WindowStore) consume(slot *windowSlot, now time.Time) (domain.Decision, bool) {
	for {
		cur := slot.cur.Load()
		if cur == removedWindow {
			return domain.Decision{}, false
		}
		if cur == nil || cur.Stale(now, s.window) {
			fresh := &domain.Window{Start: now, Count: 1}
			if slot.cur.CompareAndSwap(cur, fresh) {
				return s.allowed(fresh), true
			}
			continue
		}

		if cur.Count >= s.limit {
			return domain.Decision{
				Allowed:    false,
				Limit:      s.limit,
				RetryAfter: cur.Remaining(now, s.window),
			}, true
		}

		next := &domain.Window{Start: cur.Start, Count: cur.Count + 1}
		if slot.cur.CompareAndSwap(cur, next) {
			return s.allowed(next), true
		}
	}
}

func (s *WindowStore) allowed(w *domain.Window) domain.Decision {
	rem := s.limit - w.Count
	if rem < 0 {
		rem = 0
	}
	return domain.Decision{Allowed: true, Limit: s.limit, Remaining: rem}
}

// Peek devolve a janela atual da chave, se houver.
func (s *WindowStore) Peek(key domain.Key) (domain.Window, bool) {
	v, ok := s.slots.Load(key)
	if !ok {
		return domain.Window{}, false
	}
	w := v.(*windowSlot).cur.Load()
	if w == nil || w == removedWindow {
		return domain.Window{}, false
	}
	return *w, true
}

// Reset descarta a janela de uma chave (override administrativo).
func (s *WindowStore) Reset(key domain.Key) {
	s.slots.Delete(key)
}

// Clear descarta todas as janelas. Usado em testes, não em tráfego real.
func (s *WindowStore) Clear() {
	s.slots.Clear()
}

// Len conta as chaves rastreadas (inclui janelas vencidas ainda não limpas).
func (s *WindowStore) Len() int {
	n := 0
	s.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup remove slots cuja janela já venceu. Remover uma janela vencida é
// indistinguível de substituí-la no próximo Consume.
func (s *WindowStore) Cleanup() {
	now := s.now()
	s.slots.Range(func(k, v any) bool {
		slot := v.(*windowSlot)
		w := slot.cur.Load()
		if w != removedWindow && (w == nil || w.Stale(now, s.window)) {
			// marca antes de remover: um Consume concorrente ou vence o CAS
			// (e a janela continua viva) ou enxerga a marca e recria o slot.
			if !slot.cur.CompareAndSwap(w, removedWindow) {
				return true
			}
		}
		if slot.cur.Load() == removedWindow {
			s.slots.CompareAndDelete(k, v)
		}
		return true
	})
}

// StartJanitor inicia uma goroutine que limpa janelas vencidas periodicamente.
// Pare cancelando o contexto.
func (s *WindowStore) StartJanitor(ctx janitor.DoneContext) {
	janitor.Start(ctx, s.cleanupEvery, s.Cleanup)
}
