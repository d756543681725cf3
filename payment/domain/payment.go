// Package domain define os status de pagamento, a regra de transição e o
// contrato do log de status.
//
// O log é append-only: entradas nunca são alteradas nem removidas, e um status
// terminal fecha o log daquele pagamento.
package domain

import (
	"errors"
	"strings"
	"time"
)

type ID int64

type Status string

const (
	Unpaid    Status = "UNPAID"
	Pending   Status = "PENDING"
	Paid      Status = "PAID"
	Cancelled Status = "CANCELLED"
)

var ErrInvalidStatus = errors.New("invalid payment status")

// ParseStatus aceita o nome do status sem diferenciar maiúsculas.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case Unpaid, Pending, Paid, Cancelled:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// IsTerminal: PAID e CANCELLED não aceitam mais transição.
func (s Status) IsTerminal() bool {
	return s == Paid || s == Cancelled
}

// Entry é um fato imutável: o pagamento tinha Status a partir de ChangedAt.
// Seq é a ordem de inserção e desempata ChangedAt iguais.
type Entry struct {
	PaymentID ID        `json:"paymentId"`
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	Seq       uint64    `json:"seq"`
}

// Later informa se e substitui cur como entrada mais recente.
func (e Entry) Later(cur Entry) bool {
	if e.ChangedAt.Equal(cur.ChangedAt) {
		return e.Seq > cur.Seq
	}
	return e.ChangedAt.After(cur.ChangedAt)
}

// Latest devolve a entrada corrente de um histórico (maior ChangedAt, empate
// pela inserção mais nova).
func Latest(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	cur := entries[0]
	for _, e := range entries[1:] {
		if e.Later(cur) {
			cur = e
		}
	}
	return cur, true
}

type Outcome string

const (
	Applied         Outcome = "applied"
	Noop            Outcome = "noop"
	RefusedTerminal Outcome = "refused_terminal"
)

// Decide é a regra de transição. Sem status corrente, qualquer alvo é aplicado.
func Decide(current Status, hasCurrent bool, target Status) Outcome {
	switch {
	case !hasCurrent:
		return Applied
	case current.IsTerminal():
		return RefusedTerminal
	case current == target:
		return Noop
	default:
		return Applied
	}
}

// Result é o efeito de uma transição. Status é sempre o status corrente depois
// da chamada: o alvo quando aplicado, o anterior (inalterado) caso contrário.
type Result struct {
	PaymentID ID
	Status    Status
	Previous  Status // vazio quando não havia status
	Applied   bool
	Outcome   Outcome
}

// Log mantém o histórico de status por pagamento.
//
// Transition é atômica por pagamento: ler o corrente, decidir e anexar nunca
// intercala com outra Transition do mesmo ID.
type Log interface {
	Current(id ID) (Entry, bool)
	History(id ID) []Entry
	Transition(id ID, target Status, at time.Time) Result
}
