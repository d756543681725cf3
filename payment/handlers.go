// Package payment expõe o log de status de pagamento por HTTP.
//
//	GET  /payment-status?paymentId=1          status corrente (404 sem status)
//	POST /payment-status {"paymentId","status"} transição
//	GET  /payment-status/history?paymentId=1  histórico completo
//
// Uma transição recusada por status terminal responde 200 com applied=false,
// a menos que Strict esteja ligado (aí responde 409).
package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"clinic-guards/middleware/respond"
	"clinic-guards/payment/application"
	"clinic-guards/payment/domain"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

type Handlers struct {
	Service application.Service
	Logger  *slog.Logger
	// Strict troca a recusa silenciosa por 409 PAYMENT_STATUS_TERMINAL.
	Strict bool
}

type StatusResponse struct {
	PaymentID domain.ID     `json:"paymentId"`
	Status    domain.Status `json:"status"`
}

type SetStatusResponse struct {
	PaymentID domain.ID      `json:"paymentId"`
	Status    domain.Status  `json:"status"`
	Applied   bool           `json:"applied"`
	Outcome   domain.Outcome `json:"outcome"`
}

type HistoryResponse struct {
	PaymentID domain.ID      `json:"paymentId"`
	Entries   []domain.Entry `json:"entries"`
}

type setStatusBody struct {
	PaymentID *domain.ID `json:"paymentId"`
	Status    *string    `json:"status"`
}

// Mount registra as rotas em r.
func (h Handlers) Mount(r chi.Router) {
	r.Get("/payment-status", h.GetStatus)
	r.Post("/payment-status", h.SetStatus)
	r.Get("/payment-status/history", h.History)
}

func (h Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "Missing paymentId")
		return
	}
	st, ok := h.Service.CurrentStatus(id)
	if !ok {
		respond.Error(w, r, http.StatusNotFound, "NOT_FOUND", "No status found")
		return
	}
	respond.JSON(w, http.StatusOK, StatusResponse{PaymentID: id, Status: st})
}

func (h Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body setStatusBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil || body.PaymentID == nil || body.Status == nil {
		respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "body must be {\"paymentId\": <int>, \"status\": <status>}")
		return
	}
	target, err := domain.ParseStatus(*body.Status)
	if errors.Is(err, domain.ErrInvalidStatus) {
		respond.Error(w, r, http.StatusBadRequest, "INVALID_STATUS", "Invalid status")
		return
	}

	res := h.Service.SetStatus(r.Context(), *body.PaymentID, target)
	if h.Strict && res.Outcome == domain.RefusedTerminal {
		respond.Error(w, r, http.StatusConflict, "PAYMENT_STATUS_TERMINAL",
			"Cannot change status: payment is already "+string(res.Status))
		return
	}
	h.logger().Debug("payment status request",
		"payment_id", int64(res.PaymentID),
		"status", string(res.Status),
		"outcome", string(res.Outcome),
	)
	respond.JSON(w, http.StatusOK, SetStatusResponse{
		PaymentID: res.PaymentID,
		Status:    res.Status,
		Applied:   res.Applied,
		Outcome:   res.Outcome,
	})
}

func (h Handlers) History(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentID(r)
	if !ok {
		respond.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "Missing paymentId")
		return
	}
	entries := h.Service.History(id)
	if entries == nil {
		entries = []domain.Entry{}
	}
	respond.JSON(w, http.StatusOK, HistoryResponse{PaymentID: id, Entries: entries})
}

func paymentID(r *http.Request) (domain.ID, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("paymentId"))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return domain.ID(n), true
}
