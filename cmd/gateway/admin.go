package main

import (
	"net/http"
	"strings"
	"time"

	rlDomain "clinic-guards/middleware/ratelimit/domain"
	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/session"
	sessionDomain "clinic-guards/middleware/session/domain"

	"github.com/go-chi/chi/v5"
)

const (
	adminRole     = "admin"
	paymentsRoute = http.MethodPost + " /api/payments"
)

// windowPeeker é implementado só pelo store de janela fixa.
type windowPeeker interface {
	Peek(rlDomain.Key) (rlDomain.Window, bool)
}

type windowView struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
}

type idempotencyView struct {
	Key        string    `json:"key"`
	State      string    `json:"state"`
	StatusCode int       `json:"status_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// requireRole deixa passar só sessões com o papel dado; roda atrás do
// RequireSession.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok || !strings.EqualFold(sess.Role, role) {
				respond.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mountAdmin expõe o estado dos guards para inspeção. Nada aqui altera estado.
func (g guards) mountAdmin(r chi.Router) {
	r.Use(requireRole(adminRole))

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		live := g.sessions.Sessions()
		out := make([]sessionDomain.Session, 0, len(live))
		for _, s := range live {
			s.Token = ""
			out = append(out, s)
		}
		respond.JSON(w, http.StatusOK, map[string]any{"count": len(out), "sessions": out})
	})

	r.Get("/ratelimit", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		peeker, ok := g.limiter.(windowPeeker)
		if key == "" || !ok {
			respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "key required and RATE_ALGORITHM must be window")
			return
		}
		win, ok := peeker.Peek(rlDomain.Key(key))
		if !ok {
			respond.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no window for key")
			return
		}
		respond.JSON(w, http.StatusOK, windowView{Key: key, WindowStart: win.Start, Count: win.Count})
	})

	r.Get("/idempotency", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if strings.TrimSpace(key) == "" {
			respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "key required")
			return
		}
		// chaves são guardadas por método e rota; padrão é a criação de pagamento
		route := r.URL.Query().Get("route")
		if route == "" {
			route = paymentsRoute
		}
		rec, ok := g.cache.Get(route + " " + key)
		if !ok {
			respond.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no record for key")
			return
		}
		view := idempotencyView{Key: key, State: "pending", CreatedAt: rec.CreatedAt}
		if !rec.Pending() {
			view.State = "completed"
			view.StatusCode = rec.Response.StatusCode
		}
		respond.JSON(w, http.StatusOK, view)
	})
}
