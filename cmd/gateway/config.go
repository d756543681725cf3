package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// writeTimeout é o teto de uma request no gateway. Uma reserva de idempotência
// precisa durar mais que isso, senão um retry entra enquanto a primeira
// escrita ainda roda.
const writeTimeout = 30 * time.Second

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    slog.Level

	rateEnabled   bool
	rateAlgorithm string
	rateLimit     int
	rateWindow    time.Duration
	rateRPS       float64
	rateBurst     int
	rateKeyHeader string
	trustXFF      bool
	retryAfter    time.Duration
	addHeaders    bool

	sessionIdleTimeout time.Duration
	sessionSweepEvery  time.Duration
	sessionHeader      string

	idempotencyTTL            time.Duration
	idempotencyReservationTTL time.Duration
	idempotencySweepEvery     time.Duration
	idempotencyRequireKey     bool

	paymentStrictTerminal bool

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = parseLevel(getenvDefault("LOG_LEVEL", "info"))

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateAlgorithm = strings.ToLower(getenvDefault("RATE_ALGORITHM", "window"))
	cfg.rateLimit = getenvIntDefault("RATE_LIMIT", 100)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", time.Minute)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	// IMPORTANTE: o "burst" permite uma rajada inicial de requisições.
	// Com RPS muito baixo (ex: 0.02), o padrão 20 pode dar a impressão de que
	// o limiter não está funcionando, porque as primeiras ~20 passam.
	if burst, ok := getenvInt("RATE_BURST"); ok {
		cfg.rateBurst = burst
	} else {
		cfg.rateBurst = 20
		if getenvIsSet("RATE_RPS") && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", true)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.sessionIdleTimeout = getenvDurationDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.sessionSweepEvery = getenvDurationDefault("SESSION_SWEEP_EVERY", time.Minute)
	cfg.sessionHeader = os.Getenv("SESSION_HEADER")

	cfg.idempotencyTTL = getenvDurationDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	cfg.idempotencyReservationTTL = getenvDurationDefault("IDEMPOTENCY_RESERVATION_TTL", time.Minute)
	cfg.idempotencySweepEvery = getenvDurationDefault("IDEMPOTENCY_SWEEP_EVERY", 10*time.Minute)
	cfg.idempotencyRequireKey = getenvBoolDefault("IDEMPOTENCY_REQUIRE_KEY", false)

	cfg.paymentStrictTerminal = getenvBoolDefault("PAYMENT_STRICT_TERMINAL", false)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "guards:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	if cfg.upstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	switch cfg.rateAlgorithm {
	case "window":
		if cfg.rateLimit <= 0 {
			return errors.New("RATE_LIMIT must be > 0")
		}
		if cfg.rateWindow <= 0 {
			return errors.New("RATE_WINDOW must be > 0")
		}
	case "token":
		if cfg.rateRPS <= 0 {
			return errors.New("RATE_RPS must be > 0")
		}
		if cfg.rateBurst <= 0 {
			return errors.New("RATE_BURST must be > 0")
		}
	default:
		return errors.New(`RATE_ALGORITHM must be "window" or "token"`)
	}
	if cfg.sessionIdleTimeout <= 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.idempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.idempotencyReservationTTL <= writeTimeout {
		return fmt.Errorf("IDEMPOTENCY_RESERVATION_TTL must be > %s (server write timeout)", writeTimeout)
	}
	return nil
}

func parseLevel(v string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
