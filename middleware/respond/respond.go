// Package respond padroniza as respostas JSON dos adapters HTTP dos guards.
package respond

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ErrorBody é o corpo de toda rejeição de guard.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	// RetryAfter em segundos; só preenchido quando repetir faz sentido.
	RetryAfter int `json:"retry_after,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: code, Message: message, RequestID: requestID(r)})
}

// ErrorRetry é Error com a dica de retry no corpo (o header fica com quem chama).
func ErrorRetry(w http.ResponseWriter, r *http.Request, status int, code, message string, retryAfter int) {
	JSON(w, status, ErrorBody{Error: code, Message: message, RequestID: requestID(r), RetryAfter: retryAfter})
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}
