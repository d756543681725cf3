package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"clinic-guards/middleware/idempotency"
	idemInfra "clinic-guards/middleware/idempotency/infra"
	"clinic-guards/middleware/janitor"
	"clinic-guards/middleware/ratelimit"
	rlDomain "clinic-guards/middleware/ratelimit/domain"
	rlInfra "clinic-guards/middleware/ratelimit/infra"
	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/session"
	sessionInfra "clinic-guards/middleware/session/infra"
	"clinic-guards/middleware/stats"
	"clinic-guards/payment"
	"clinic-guards/payment/application"
	paymentInfra "clinic-guards/payment/infra"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// limiterStore é o que o gateway precisa de qualquer algoritmo de rate limit.
type limiterStore interface {
	rlDomain.LimiterStore
	StartJanitor(ctx janitor.DoneContext)
}

// guards reúne os stores do processo. Todos vivem enquanto o gateway viver.
type guards struct {
	limiter  limiterStore // nil com RATE_ENABLED=false
	sessions *sessionInfra.MemoryStore
	cache    *idemInfra.MemoryCache
	payments *paymentInfra.MemoryLog
	stats    stats.Recorder
	auth     session.Authenticator
}

func newGuards(cfg config, log *slog.Logger, rec stats.Recorder, auth session.Authenticator) guards {
	g := guards{
		sessions: sessionInfra.NewMemoryStore(
			sessionInfra.WithIdleTimeout(cfg.sessionIdleTimeout),
			sessionInfra.WithSweepEvery(cfg.sessionSweepEvery),
			sessionInfra.WithLogger(log),
		),
		cache: idemInfra.NewMemoryCache(
			idemInfra.WithTTL(cfg.idempotencyTTL),
			idemInfra.WithReservationTTL(cfg.idempotencyReservationTTL),
			idemInfra.WithSweepEvery(cfg.idempotencySweepEvery),
			idemInfra.WithLogger(log),
		),
		payments: paymentInfra.NewMemoryLog(paymentInfra.WithLogger(log)),
		stats:    rec,
		auth:     auth,
	}
	if cfg.rateEnabled {
		if cfg.rateAlgorithm == "token" {
			g.limiter = rlInfra.NewTokenBucketStore(cfg.rateRPS, cfg.rateBurst)
		} else {
			g.limiter = rlInfra.NewWindowStore(cfg.rateLimit, cfg.rateWindow)
		}
	}
	return g
}

// start liga as varreduras periódicas; todas param quando ctx encerra.
func (g guards) start(ctx context.Context) {
	if g.limiter != nil {
		g.limiter.StartJanitor(ctx)
	}
	g.sessions.StartJanitor(ctx)
	g.cache.StartJanitor(ctx)
}

func newProxy(target *url.URL, log *slog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		respond.Error(w, r, http.StatusBadGateway, "BAD_GATEWAY", "upstream unavailable")
	}
	return proxy
}

// newRouter monta a ordem dos guards: rate limit em tudo, sessão em tudo que
// não é login/logout, idempotência só na criação de pagamento.
func newRouter(cfg config, g guards, upstream http.Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	if g.limiter != nil {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Store:               g.limiter,
			Stats:               g.stats,
			Logger:              log,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
		}))
	}

	requireSession := session.RequireSession(session.Options{
		Store:  g.sessions,
		Stats:  g.stats,
		Logger: log,
		Header: cfg.sessionHeader,
	})
	sessions := session.Handlers{Store: g.sessions, Auth: g.auth, Logger: log, Header: cfg.sessionHeader}
	payments := payment.Handlers{
		Service: application.Service{Log: g.payments, Stats: g.stats},
		Logger:  log,
		Strict:  cfg.paymentStrictTerminal,
	}
	idem := idempotency.Middleware(idempotency.Options{
		Cache:      g.cache,
		Stats:      g.stats,
		Logger:     log,
		RequireKey: cfg.idempotencyRequireKey,
	})
	forward := forwardIdentity(upstream, cfg.sessionHeader)

	r.Route("/api", func(api chi.Router) {
		api.Post("/sessions", sessions.Login)
		api.Delete("/sessions", sessions.Logout)
		api.With(requireSession).Get("/sessions/me", sessions.Me)

		api.Group(func(p chi.Router) {
			p.Use(requireSession)
			payments.Mount(p)
			p.Route("/admin", g.mountAdmin)
			p.With(idem).Post("/payments", forward.ServeHTTP)
			p.Handle("/*", forward)
		})
	})
	r.With(requireSession).Handle("/*", forward)
	return r
}

// forwardIdentity repassa a request ao backend com a identidade da sessão em
// headers e sem o token de sessão, que só vale neste processo.
func forwardIdentity(next http.Handler, sessionHeader string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.Clone(r.Context())
		r.Header.Del("Authorization")
		if sessionHeader != "" {
			r.Header.Del(sessionHeader)
		}
		if sess, ok := session.FromContext(r.Context()); ok {
			r.Header.Set("X-User-Id", sess.UserID)
			r.Header.Set("X-Username", sess.Username)
			r.Header.Set("X-User-Role", sess.Role)
		}
		next.ServeHTTP(w, r)
	})
}
