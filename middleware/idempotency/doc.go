// Package idempotency fornece o adapter HTTP do cache de idempotência.
//
// Camadas:
//
//   - domain: Record, Outcome, contrato Cache e Fingerprint (sem net/http)
//   - infra: MemoryCache em memória com reserva, TTL e sweep
//   - idempotency (este pacote): middleware que lê a chave e o corpo, decide e
//     captura a resposta da primeira escrita
//
// Tradução das decisões:
//
//	proceed      -> executa o handler; 2xx é guardado, o resto libera a chave
//	replay       -> devolve a resposta guardada com X-Idempotency-Replayed: true
//	conflict     -> 409 IDEMPOTENCY_CONFLICT (não repetir com outro corpo)
//	in_progress  -> 409 IDEMPOTENCY_IN_PROGRESS com Retry-After
//
// A chave é escopada por método e path: a mesma Idempotency-Key em rotas
// diferentes não colide.
package idempotency
