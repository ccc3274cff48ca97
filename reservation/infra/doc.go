// Package infra contém implementações concretas dos contratos de domain.
//
// Record Stores:
//   - MemoryStore: mapa com read-check-write sob lock (dev/testes; não é fonte de verdade entre processos)
//   - RedisStore: um hash por id, WATCH/MULTI/EXEC
//   - PostgresStore: SELECT ... FOR UPDATE + UPDATE condicionado à versão
//
// Suporte à API HTTP:
//   - LimiterStore: token bucket por chamador usando golang.org/x/time/rate
//   - RequestSlots: semáforo de requisições em voo
//   - MemoryStatsStore / RedisStatsStore: contadores de desfechos
package infra
