package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-guards/middleware/stats"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err.Error())
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(log)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Error("invalid UPSTREAM_URL", "error", err.Error())
		os.Exit(1)
	}

	var rec stats.Recorder
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Error("redis stats ping error", "error", err.Error())
			os.Exit(1)
		}

		rec = stats.NewRedisRecorder(
			rdb,
			stats.WithPrefix(cfg.statsPrefix),
			stats.WithTTL(cfg.statsTTL),
			stats.WithBucket(cfg.statsBucket),
			stats.WithRedisTrackKeys(cfg.statsTrackKeys),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g := newGuards(cfg, log, rec, newUpstreamAuth(target))
	g.start(ctx)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           newRouter(cfg, g, newProxy(target, log), log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	log.Info("rate", "enabled", cfg.rateEnabled, "algorithm", cfg.rateAlgorithm, "limit", cfg.rateLimit, "window", cfg.rateWindow.String(), "rps", cfg.rateRPS, "burst", cfg.rateBurst, "keyHeader", cfg.rateKeyHeader, "trustXFF", cfg.trustXFF)
	log.Info("session", "idleTimeout", cfg.sessionIdleTimeout.String(), "sweepEvery", cfg.sessionSweepEvery.String(), "header", cfg.sessionHeader)
	log.Info("idempotency", "ttl", cfg.idempotencyTTL.String(), "reservationTTL", cfg.idempotencyReservationTTL.String(), "sweepEvery", cfg.idempotencySweepEvery.String(), "requireKey", cfg.idempotencyRequireKey)
	log.Info("payment-status", "strictTerminal", cfg.paymentStrictTerminal)
	log.Info("stats", "enabled", cfg.statsEnabled, "redisAddr", cfg.statsRedisAddr, "bucket", cfg.statsBucket, "ttl", cfg.statsTTL.String(), "trackKeys", cfg.statsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
}
