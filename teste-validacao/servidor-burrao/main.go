// Backend falso da clínica para validar o gateway na mão:
//
//	go run ./teste-validacao/servidor-burrao
//	UPSTREAM_URL=http://localhost:9090 go run ./cmd/gateway
//
// Qualquer usuário com senha "123456" loga. Cada POST /api/payments cria um
// pagamento novo, então um replay do gateway aparece como id repetido.
package main

import (
	"encoding/json"
	"html"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	var payments atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing username or password"})
			return
		}
		if body.Password != "123456" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": "fake." + body.Username,
			"token_type":   "Bearer",
			"expires_in":   "86400",
		})
	})
	mux.HandleFunc("GET /auth/profile", func(w http.ResponseWriter, r *http.Request) {
		user, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer fake.")
		if !ok || user == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"userId": user, "username": user, "role": "admin"})
	})
	mux.HandleFunc("POST /api/payments", func(w http.ResponseWriter, r *http.Request) {
		id := payments.Add(1)
		log.Info("payment created", "id", id, "user", r.Header.Get("X-User-Id"))
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
	})
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<h1>Tela do Sistema</h1><p>Requisição recebida de " + html.EscapeString(r.Header.Get("X-Username")) + "</p>"))
		log.Info("showTela accessed", "user", r.Header.Get("X-User-Id"))
	})

	log.Info("fake clinic backend listening", "addr", ":9090")
	if err := http.ListenAndServe(":9090", mux); err != nil {
		log.Error("server error", "error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
