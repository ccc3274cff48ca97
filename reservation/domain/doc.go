// Package domain define os tipos e contratos do serviço de reservas com capacidade limitada.
//
// Este pacote não depende de net/http, Redis ou Postgres.
// A regra central vive aqui como dado (Reservable.Validate) e como contrato (Store.Transact);
// a aplicação e a infra apenas respeitam esses contratos.
package domain
