package domain

import (
	"context"
	"time"
)

type Operation string

const (
	OpReserve Operation = "reserve"
	OpRelease Operation = "release"
)

// StatsEvent registra o desfecho de uma operação sobre uma Reservable.
//
// Só é emitido depois que o desfecho é conhecido: um OK=true significa
// que a mutação já foi confirmada no Store.
type StatsEvent struct {
	ReservableID string
	Op           Operation
	OK           bool
	Reason       Reason
	Attempts     int

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
// Quem chama trata erro como best-effort (não altera o desfecho).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
