package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExampleServer_GuardedPaymentFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHandler(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))

	send := func(method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	if w := send(http.MethodPost, "/sessions", "", `{"username":"ana","password":"x"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}
	login := send(http.MethodPost, "/sessions", "", `{"username":"ana","password":"demo"}`, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d", login.Code)
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(login.Body).Decode(&sess); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	if w := send(http.MethodPost, "/payments", "", `{"amount":10}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}

	key := map[string]string{"Idempotency-Key": "k-1"}
	first := send(http.MethodPost, "/payments", sess.Token, `{"amount":10}`, key)
	retry := send(http.MethodPost, "/payments", sess.Token, `{"amount":10}`, key)
	if first.Code != http.StatusCreated || retry.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of first payment, got %d %s / %s", first.Code, first.Body.String(), retry.Body.String())
	}

	if w := send(http.MethodPost, "/payment-status", sess.Token, `{"paymentId":1,"status":"PAID"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("expected status change 200, got %d", w.Code)
	}

	stats := send(http.MethodGet, "/stats", sess.Token, "", nil)
	if !strings.Contains(stats.Body.String(), `"replay":1`) {
		t.Fatalf("expected replay counted in stats, got %s", stats.Body.String())
	}
}
