package idempotency

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinic-guards/middleware/idempotency/domain"
	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/stats"
)

const (
	DefaultHeader       = "Idempotency-Key"
	ReplayedHeader      = "X-Idempotency-Replayed"
	defaultMaxBodyBytes = 1 << 20
)

type Options struct {
	Cache  domain.Cache
	Stats  stats.Recorder
	Logger *slog.Logger
	// Header de onde vem a chave. Padrão: Idempotency-Key.
	Header string
	// RequireKey responde 400 quando a chave falta; sem ele a request segue
	// sem proteção.
	RequireKey bool
	// MaxBodyBytes limita o corpo lido para o fingerprint (413 acima disso).
	MaxBodyBytes int64
	// InProgressRetryAfter é a dica de retry quando a primeira request ainda roda.
	InProgressRetryAfter time.Duration
}

// Middleware torna seguro repetir a escrita protegida: mesma chave com mesmo
// corpo devolve a resposta guardada sem executar o handler de novo.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.InProgressRetryAfter <= 0 {
		opts.InProgressRetryAfter = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Cache == nil || safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(opts.Header))
			if key == "" {
				if opts.RequireKey {
					record(r, opts.Stats, "", "missing_key")
					respond.Error(w, r, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", opts.Header+" header is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respond.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
					return
				}
				respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := r.Method + " " + r.URL.Path + " " + key
			fp := domain.Fingerprint(body)
			res := opts.Cache.LookupOrReserve(scoped, fp)
			record(r, opts.Stats, key, string(res.Outcome))

			switch res.Outcome {
			case domain.Replay:
				opts.Logger.Debug("idempotent replay", "key", key, "method", r.Method, "path", r.URL.Path)
				if res.Response.ContentType != "" {
					w.Header().Set("Content-Type", res.Response.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(res.Response.StatusCode)
				_, _ = w.Write(res.Response.Body)
				return

			case domain.Conflict:
				opts.Logger.Info("idempotency key reused with different body", "key", key, "path", r.URL.Path)
				respond.Error(w, r, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
					"Idempotency key already used with a different request body. Do not retry with a different body under the same key.")
				return

			case domain.InProgress:
				secs := int((opts.InProgressRetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				respond.ErrorRetry(w, r, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS",
					"A request with this idempotency key is still being processed.", secs)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			completed := false
			defer func() {
				if !completed {
					opts.Cache.Release(scoped, fp)
				}
			}()

			next.ServeHTTP(cw, r)

			status := cw.statusCode()
			if status >= 200 && status < 300 {
				opts.Cache.Store(scoped, fp, domain.CachedResponse{
					StatusCode:  status,
					ContentType: cw.Header().Get("Content-Type"),
					Body:        cw.body.Bytes(),
				})
				completed = true
				return
			}
			opts.Logger.Debug("write not cached", "key", key, "status", status)
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func record(r *http.Request, rec stats.Recorder, key, outcome string) {
	stats.Record(r.Context(), rec, stats.Event{
		Guard:   stats.GuardIdempotency,
		Key:     key,
		Outcome: stats.Outcome(outcome),
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}

// captureWriter repassa a resposta ao cliente e guarda uma cópia para o replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
