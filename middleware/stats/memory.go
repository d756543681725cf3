package stats

import (
	"context"
	"strings"
	"sync"
)

// Counters agrega contagens por outcome.
type Counters map[Outcome]int64

func (c Counters) clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MemoryRecorder é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryRecorder struct {
	mu      sync.Mutex
	byGuard map[Guard]Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryOption func(*MemoryRecorder)

func WithTrackKeys(track bool) MemoryOption {
	return func(s *MemoryRecorder) { s.trackKeys = track }
}

func NewMemoryRecorder(opts ...MemoryOption) *MemoryRecorder {
	s := &MemoryRecorder{
		byGuard: make(map[Guard]Counters),
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryRecorder) Record(_ context.Context, ev Event) error {
	route := strings.TrimSpace(ev.Method + " " + ev.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	incr(s.byGuard, ev.Guard, ev.Outcome)
	if route != "" {
		incr(s.byRoute, route, ev.Outcome)
	}
	if s.trackKeys {
		incr(s.byKey, string(ev.Guard)+":"+ev.Key, ev.Outcome)
	}
	return nil
}

func incr[K comparable](m map[K]Counters, k K, o Outcome) {
	c := m[k]
	if c == nil {
		c = make(Counters)
		m[k] = c
	}
	c[o]++
}

// Guard devolve uma cópia dos contadores de um guard.
func (s *MemoryRecorder) Guard(g Guard) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byGuard[g].clone()
}

func (s *MemoryRecorder) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v.clone()
	}
	return out
}

// ByKey usa a chave "<guard>:<key>".
func (s *MemoryRecorder) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v.clone()
	}
	return out
}
