// Package session fornece os adapters HTTP do store de sessões: middleware que
// exige sessão válida, login e logout.
//
// O token de sessão é opaco e só existe neste processo; ele não é o JWT que um
// colaborador externo eventualmente verifica.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/session/domain"
	"clinic-guards/middleware/stats"
)

type ctxKey struct{}

// FromContext devolve a sessão resolvida pelo RequireSession.
func FromContext(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(domain.Session)
	return s, ok
}

func WithSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

type Options struct {
	Store  domain.Store
	Stats  stats.Recorder
	Logger *slog.Logger
	// Header alternativo ao "Authorization: Bearer <token>".
	Header string
}

// TokenFunc extrai o token de sessão da request.
func TokenFunc(header string) func(r *http.Request) string {
	return func(r *http.Request) string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
		return ""
	}
}

// RequireSession responde 401 quando não há sessão válida; caso contrário
// coloca a sessão no contexto e segue.
func RequireSession(opts Options) func(next http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	token := TokenFunc(opts.Header)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				sess domain.Session
				ok   bool
			)
			if t := token(r); t != "" && opts.Store != nil {
				sess, ok = opts.Store.Get(t)
			}

			ev := stats.Event{
				Guard:   stats.GuardSession,
				Outcome: "resolved",
				Method:  r.Method,
				Path:    r.URL.Path,
				At:      time.Now(),
			}
			if !ok {
				ev.Outcome = "absent"
				stats.Record(r.Context(), opts.Stats, ev)
				opts.Logger.Debug("request without valid session", "method", r.Method, "path", r.URL.Path)
				respond.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing, unknown or expired session")
				return
			}
			ev.Key = sess.UserID
			stats.Record(r.Context(), opts.Stats, ev)

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}
