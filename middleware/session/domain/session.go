// Package domain define a sessão autenticada e o contrato do store de sessões.
package domain

import "time"

// Session é o login ativo de um usuário. Valores de Session são snapshots:
// alterar um deles não muda o store.
type Session struct {
	Token        string    `json:"token,omitempty"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Expired informa se a sessão passou de idle em `now`.
// Exatamente idle de inatividade ainda é válido.
func (s Session) Expired(now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity) > idle
}

// Store emite, resolve e expira sessões.
//
// Nenhuma operação falha no sentido de erro: ausência, expiração e remoção de
// token inexistente são todos "absent"/no-op.
type Store interface {
	// Create invalida as sessões anteriores do usuário e devolve um token novo.
	Create(userID, username, role string) string
	// Get devolve a sessão e renova a atividade; expirada equivale a inexistente.
	Get(token string) (Session, bool)
	Invalidate(token string)
	InvalidateUser(userID string)
	Count() int
}
