// Package ratelimit fornece o adapter HTTP (net/http) do rate limit por cliente.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: caso de uso (decisão allow/deny + retry-after) sem net/http
//   - infra: implementações concretas (janela fixa, token bucket)
//   - ratelimit (este pacote): middleware HTTP + extração de chave + tradução para status/headers
//
// Fluxo em cada request:
//
//   1) Extrai a chave do cliente (header/XFF/RemoteAddr, ou "unknown")
//   2) Chama a camada application para obter a decisão
//   3) Se bloqueado, responde 429 com Retry-After e o atraso no corpo JSON
//   4) Se permitido, chama o próximo handler (sessão, idempotência, proxy...)
//
// Todos os clientes sem identidade resolvida caem no mesmo bucket "unknown":
// é um agrupamento grosseiro conhecido para clientes anônimos.
package ratelimit
