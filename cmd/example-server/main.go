package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"clinic-guards/middleware/idempotency"
	idemInfra "clinic-guards/middleware/idempotency/infra"
	"clinic-guards/middleware/ratelimit"
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

func main() {
	// Exemplo: injetando os guards diretamente no seu webserver (sem proxy)
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(ctx, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
}

// newHandler monta os quatro guards em volta de uma API de pagamentos em
// memória. As varreduras param quando ctx encerra.
func newHandler(ctx context.Context, log *slog.Logger) http.Handler {
	limiter := rlInfra.NewWindowStore(100, time.Minute)
	sessions := sessionInfra.NewMemoryStore(sessionInfra.WithLogger(log))
	cache := idemInfra.NewMemoryCache(idemInfra.WithLogger(log))
	rec := stats.NewMemoryRecorder()

	limiter.StartJanitor(ctx)
	sessions.StartJanitor(ctx)
	cache.StartJanitor(ctx)

	requireSession := session.RequireSession(session.Options{Store: sessions, Stats: rec, Logger: log})
	payments := payment.Handlers{
		Service: application.Service{Log: paymentInfra.NewMemoryLog(paymentInfra.WithLogger(log)), Stats: rec},
		Logger:  log,
	}
	logins := session.Handlers{Store: sessions, Logger: log, Auth: session.AuthenticatorFunc(demoLogin)}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Store:               limiter,
		Stats:               rec,
		Logger:              log,
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	}))

	// qualquer usuário com senha "demo" entra
	r.Post("/sessions", logins.Login)
	r.Delete("/sessions", logins.Logout)

	r.Group(func(p chi.Router) {
		p.Use(requireSession)
		p.Get("/sessions/me", logins.Me)
		payments.Mount(p)
		p.With(idempotency.Middleware(idempotency.Options{Cache: cache, Stats: rec, Logger: log})).
			Post("/payments", createPayment())
		p.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			respond.JSON(w, http.StatusOK, map[string]any{
				"ratelimit":           rec.Guard(stats.GuardRateLimit),
				"session":             rec.Guard(stats.GuardSession),
				"idempotency":         rec.Guard(stats.GuardIdempotency),
				"payment_status":      rec.Guard(stats.GuardPaymentStatus),
				"sessions":            sessions.Count(),
				"idempotency_records": cache.Len(),
			})
		})
	})
	return r
}

type demoCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func demoLogin(r *http.Request) (session.Identity, error) {
	var c demoCredentials
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&c); err != nil || c.Username == "" || c.Password != "demo" {
		return session.Identity{}, session.ErrInvalidCredentials
	}
	return session.Identity{UserID: c.Username, Username: c.Username, Role: "STAFF"}, nil
}

// createPayment simula a escrita não idempotente: cada chamada gera um id novo.
func createPayment() http.HandlerFunc {
	var seq atomic.Int64
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount int64 `json:"amount"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil || body.Amount <= 0 {
			respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "amount must be > 0")
			return
		}
		respond.JSON(w, http.StatusCreated, map[string]int64{"id": seq.Add(1), "amount": body.Amount})
	}
}
