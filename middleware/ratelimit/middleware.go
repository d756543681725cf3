package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"clinic-guards/middleware/ratelimit/application"
	"clinic-guards/middleware/ratelimit/domain"
	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/stats"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store               domain.LimiterStore
	Stats               stats.Recorder
	Logger              *slog.Logger
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

type windowInfo interface {
	Limit() int
	Window() time.Duration
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		addr := strings.TrimSpace(r.RemoteAddr)
		host, _, err := net.SplitHostPort(addr)
		if err == nil && host != "" {
			return host
		}
		if addr != "" {
			return addr
		}
		return string(domain.UnknownKey)
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc := application.Service{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			if key == "" {
				key = string(domain.UnknownKey)
			}

			dec := svc.Decide(domain.Key(key))

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if dec.Limit > 0 {
					w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
					w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				}
			}

			outcome := stats.OutcomeAllowed
			if !dec.Allowed {
				outcome = stats.OutcomeRejected
			}
			stats.Record(r.Context(), opts.Stats, stats.Event{
				Guard:   stats.GuardRateLimit,
				Key:     key,
				Outcome: outcome,
				Method:  r.Method,
				Path:    r.URL.Path,
				At:      time.Now(),
			})

			if !dec.Allowed {
				secs := retrySeconds(dec.RetryAfter)
				opts.Logger.Info("rate limit exceeded",
					"key", key,
					"method", r.Method,
					"path", r.URL.Path,
					"retry_after", secs,
				)
				w.Header().Set("Retry-After", formatInt(secs))
				respond.ErrorRetry(w, r, opts.RejectStatus, "TOO_MANY_REQUESTS", rejectMessage(opts.Store, secs), secs)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rejectMessage(store domain.LimiterStore, secs int) string {
	if wi, ok := store.(windowInfo); ok {
		return fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s. Try again in %d seconds.",
			wi.Limit(), windowLabel(wi.Window()), secs)
	}
	return fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs)
}

func windowLabel(d time.Duration) string {
	if d == time.Minute {
		return "minute"
	}
	return d.String()
}
