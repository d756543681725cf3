package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Key string

// UnknownKey agrupa todo cliente cuja identidade não pôde ser resolvida.
// Todos esses clientes dividem um único bucket (coarsening conhecido).
const UnknownKey Key = "unknown"

// Window é uma janela fixa de contagem para uma chave.
//
// Count só vale relativo a Start: quando now-Start >= tamanho da janela, a
// janela está vencida e deve ser substituída, nunca incrementada.
type Window struct {
	Start time.Time
	Count int
}

// Stale informa se a janela venceu em `now` para o tamanho `size`.
func (w Window) Stale(now time.Time, size time.Duration) bool {
	return now.Sub(w.Start) >= size
}

// Remaining devolve quanto falta para esgotar a janela aberta em `at`.
func (w Window) Remaining(at time.Time, size time.Duration) time.Duration {
	d := size - at.Sub(w.Start)
	if d < 0 {
		return 0
	}
	return d
}

// LimiterStore consome uma unidade da cota de uma chave (ex: IP, API key, usuário)
// e devolve a decisão. A implementação pode ser janela fixa, token bucket, etc.
type LimiterStore interface {
	Consume(Key) Decision
}

type Decision struct {
	Allowed bool
	// Limit é o teto da janela (0 quando a estratégia não tem esse conceito).
	Limit int
	// Remaining é quanto sobra na janela atual depois desta requisição.
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
