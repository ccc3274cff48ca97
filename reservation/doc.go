// Package reservation expõe o serviço de reservas via HTTP (net/http).
//
// Visão geral (camadas):
//
//   - domain: tipos e contratos (Reservable, Store, Reason) sem net/http
//   - application: Mutator (read-modify-write com retry limitado) e Service (política)
//   - infra: Stores concretos (memória, Redis, Postgres), stats, limiter por chamador
//   - client / reconciler: lado cliente (chamadas HTTP e visão otimista)
//   - reservation (este pacote): handlers, DTOs JSON, middlewares e tradução para status HTTP
//
// Fluxo de POST /reservables/{id}/reserve:
//
//  1. Middlewares: log de acesso, rate limit por chamador (429), limite de requisições em voo (503)
//  2. Valida o id (400)
//  3. Chama application.Service.Reserve
//  4. Traduz o desfecho: OK (200), NotFound (404), NotOpen/Full (409), Contention (503)
package reservation
