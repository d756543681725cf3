// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WindowStore: janela fixa por chave com compare-and-swap (padrão)
//   - TokenBucketStore: token bucket por chave usando golang.org/x/time/rate
package infra
