// Package infra contém o store de sessões em memória do processo.
package infra

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"clinic-guards/middleware/janitor"
	"clinic-guards/middleware/session/domain"

	"github.com/google/uuid"
)

// dead marca uma entrada removida (logout, troca de login, expiração).
const dead int64 = math.MinInt64

// MemoryStore implementa domain.Store em memória.
//
// Invariantes:
//   - no máximo um token vivo por usuário: Create/Invalidate* serializam por
//     userID (lock do próprio usuário, nunca global);
//   - lastActivity só muda por CAS; o sweep e o Get disputam o mesmo CAS, então
//     uma sessão ou é renovada ou é removida, nunca as duas coisas.
type MemoryStore struct {
	sessions sync.Map // token -> *entry
	users    sync.Map // userID -> *userSlot
	count    atomic.Int64

	idle       time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	newToken   func() string
	log        *slog.Logger
}

type entry struct {
	sess domain.Session // LastActivity fica em last
	last atomic.Int64   // unix nano
}

type userSlot struct {
	mu      sync.Mutex
	token   string
	retired bool
}

type Option func(*MemoryStore)

func WithIdleTimeout(d time.Duration) Option {
	return func(s *MemoryStore) { s.idle = d }
}

func WithSweepEvery(d time.Duration) Option {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

func WithNow(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithTokenFunc troca o gerador de tokens. O padrão é UUID v4.
func WithTokenFunc(fn func() string) Option {
	return func(s *MemoryStore) { s.newToken = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *MemoryStore) { s.log = l }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		idle:       30 * time.Minute,
		sweepEvery: time.Minute,
		now:        time.Now,
		newToken:   uuid.NewString,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implementa domain.Store.
func (s *MemoryStore) Create(userID, username, role string) string {
	slot := s.lockUser(userID)
	defer slot.mu.Unlock()

	if slot.token != "" {
		s.remove(slot.token)
		slot.token = ""
	}

	now := s.now()
	e := &entry{sess: domain.Session{
		UserID:    userID,
		Username:  username,
		Role:      role,
		CreatedAt: now,
	}}
	e.last.Store(now.UnixNano())

	for {
		e.sess.Token = s.newToken()
		if _, loaded := s.sessions.LoadOrStore(e.sess.Token, e); !loaded {
			break
		}
	}
	s.count.Add(1)
	slot.token = e.sess.Token

	s.log.Info("session created", "user_id", userID, "username", username, "role", role)
	return e.sess.Token
}

// Get implementa domain.Store.
func (s *MemoryStore) Get(token string) (domain.Session, bool) {
	v, ok := s.sessions.Load(token)
	if !ok {
		return domain.Session{}, false
	}
	e := v.(*entry)
	now := s.now().UnixNano()

	for {
		last := e.last.Load()
		if last == dead {
			return domain.Session{}, false
		}
		if now-last > int64(s.idle) {
			s.expire(token, e, last)
			return domain.Session{}, false
		}
		next := last
		if now > last {
			next = now
		}
		if e.last.CompareAndSwap(last, next) {
			out := e.sess
			out.LastActivity = time.Unix(0, next)
			return out, true
		}
	}
}

// Invalidate implementa domain.Store. Token desconhecido é no-op.
func (s *MemoryStore) Invalidate(token string) {
	v, ok := s.sessions.Load(token)
	if !ok {
		return
	}
	e := v.(*entry)

	slot := s.lockUser(e.sess.UserID)
	defer slot.mu.Unlock()

	if s.remove(token) {
		s.log.Info("session invalidated", "user_id", e.sess.UserID, "username", e.sess.Username)
	}
	s.clearUser(e.sess.UserID, slot, token)
}

// InvalidateUser remove a sessão do usuário (ex.: troca de senha).
func (s *MemoryStore) InvalidateUser(userID string) {
	slot := s.lockUser(userID)
	defer slot.mu.Unlock()

	if slot.token != "" && s.remove(slot.token) {
		s.log.Info("user sessions invalidated", "user_id", userID)
	}
	s.clearUser(userID, slot, slot.token)
}

// Count inclui sessões vencidas que o sweep ainda não removeu.
func (s *MemoryStore) Count() int {
	return int(s.count.Load())
}

// Sessions lista as sessões ainda válidas, sem renovar a atividade delas.
func (s *MemoryStore) Sessions() []domain.Session {
	now := s.now()
	var out []domain.Session
	s.sessions.Range(func(_, v any) bool {
		e := v.(*entry)
		last := e.last.Load()
		if last == dead {
			return true
		}
		sess := e.sess
		sess.LastActivity = time.Unix(0, last)
		if !sess.Expired(now, s.idle) {
			out = append(out, sess)
		}
		return true
	})
	return out
}

// Sweep remove as sessões inativas há mais de idle e devolve quantas saíram.
func (s *MemoryStore) Sweep() int {
	now := s.now().UnixNano()
	removed := 0
	s.sessions.Range(func(k, v any) bool {
		e := v.(*entry)
		last := e.last.Load()
		if last != dead && now-last > int64(s.idle) && s.expire(k.(string), e, last) {
			removed++
		}
		return true
	})
	if removed > 0 {
		s.log.Debug("expired sessions swept", "removed", removed, "active", s.Count())
	}
	return removed
}

// StartJanitor roda Sweep a cada sweepEvery até o contexto encerrar.
func (s *MemoryStore) StartJanitor(ctx janitor.DoneContext) {
	janitor.Start(ctx, s.sweepEvery, func() { s.Sweep() })
}

// expire tira a entrada se a atividade ainda for `last`. Um Get que renovou
// antes faz o CAS falhar e a sessão continua viva.
func (s *MemoryStore) expire(token string, e *entry, last int64) bool {
	if !e.last.CompareAndSwap(last, dead) {
		return false
	}
	if s.sessions.CompareAndDelete(token, e) {
		s.count.Add(-1)
	}

	slot := s.lockUser(e.sess.UserID)
	defer slot.mu.Unlock()
	s.clearUser(e.sess.UserID, slot, token)
	return true
}

// remove marca a entrada como morta e tira do mapa. Devolve true se ela ainda
// estava lá.
func (s *MemoryStore) remove(token string) bool {
	v, ok := s.sessions.Load(token)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.last.Store(dead)
	if s.sessions.CompareAndDelete(token, e) {
		s.count.Add(-1)
		return true
	}
	return false
}

// lockUser devolve o slot do usuário já travado.
func (s *MemoryStore) lockUser(userID string) *userSlot {
	for {
		v, _ := s.users.LoadOrStore(userID, &userSlot{})
		slot := v.(*userSlot)
		slot.mu.Lock()
		if !slot.retired {
			return slot
		}
		slot.mu.Unlock()
	}
}

// clearUser (com o slot travado) esquece o token do usuário se ainda for `token`
// e aposenta o slot vazio para o mapa de usuários não crescer sem limite.
func (s *MemoryStore) clearUser(userID string, slot *userSlot, token string) {
	if slot.token == token {
		slot.token = ""
	}
	if slot.token == "" {
		slot.retired = true
		s.users.CompareAndDelete(userID, slot)
	}
}
