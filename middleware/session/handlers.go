package session

import (
	"errors"
	"log/slog"
	"net/http"

	"clinic-guards/middleware/respond"
	"clinic-guards/middleware/session/domain"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity é o usuário já autenticado por um colaborador externo.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Authenticator verifica as credenciais da request de login (senha, JWT...).
// Deve devolver ErrInvalidCredentials quando as credenciais não conferem.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

type AuthenticatorFunc func(r *http.Request) (Identity, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (Identity, error) { return f(r) }

type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Handlers struct {
	Store  domain.Store
	Auth   Authenticator
	Logger *slog.Logger
	Header string
}

func (h Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Login autentica e cria a sessão, derrubando qualquer sessão anterior do usuário.
func (h Handlers) Login(w http.ResponseWriter, r *http.Request) {
	id, err := h.Auth.Authenticate(r)
	if errors.Is(err, ErrInvalidCredentials) {
		respond.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
		return
	}
	if err != nil {
		h.logger().Warn("authentication failed", "error", err.Error())
		respond.Error(w, r, http.StatusBadGateway, "AUTH_UNAVAILABLE", "authentication backend unavailable")
		return
	}
	if id.UserID == "" {
		respond.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
		return
	}

	token := h.Store.Create(id.UserID, id.Username, id.Role)
	respond.JSON(w, http.StatusOK, LoginResponse{
		Token:    token,
		UserID:   id.UserID,
		Username: id.Username,
		Role:     id.Role,
	})
}

// Logout é idempotente: token ausente ou desconhecido também responde 204.
func (h Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if t := TokenFunc(h.Header)(r); t != "" {
		h.Store.Invalidate(t)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me devolve a sessão corrente; deve rodar atrás do RequireSession.
func (h Handlers) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := FromContext(r.Context())
	if !ok {
		respond.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing, unknown or expired session")
		return
	}
	sess.Token = ""
	respond.JSON(w, http.StatusOK, sess)
}
