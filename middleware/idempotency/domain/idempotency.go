// Package domain define os tipos e o contrato do cache de idempotência.
//
// Sem dependência de net/http: a resposta guardada é só status, content-type e
// corpo.
package domain

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

type Outcome string

const (
	// Proceed: chave nova (ou vencida). A chave fica reservada para quem chamou,
	// que deve executar a escrita e depois chamar Store (ou Release se falhar).
	Proceed Outcome = "proceed"
	// Replay: mesma chave e mesmo corpo; devolver a resposta guardada.
	Replay Outcome = "replay"
	// Conflict: mesma chave com outro corpo. Erro de quem chamou, não um retry.
	Conflict Outcome = "conflict"
	// InProgress: a primeira request com esta chave ainda não terminou.
	InProgress Outcome = "in_progress"
)

type CachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Lookup struct {
	Outcome  Outcome
	Response CachedResponse // só em Replay
}

// Record é uma escrita já concluída (ou reservada, enquanto Response == nil).
// Nunca muda depois de criado.
type Record struct {
	Key         string
	Fingerprint string
	Response    *CachedResponse
	CreatedAt   time.Time
}

func (r Record) Pending() bool { return r.Response == nil }

// Cache torna segura a repetição de uma escrita não idempotente.
type Cache interface {
	LookupOrReserve(key, fingerprint string) Lookup
	Store(key, fingerprint string, resp CachedResponse)
	Release(key, fingerprint string)
}

// Fingerprint resume o corpo da request. Só precisa distinguir "mesmo" de
// "diferente"; não é criptográfico.
func Fingerprint(body []byte) string {
	return strconv.FormatUint(xxhash.Sum64(body), 16)
}
