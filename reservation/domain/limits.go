package domain

import (
	"context"
	"time"
)

// CallerKey identifica quem está chamando a API (IP, header, etc).
type CallerKey string

// Limiter decide se mais uma tentativa é permitida agora.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um Limiter por chamador.
type LimiterStore interface {
	Get(CallerKey) Limiter
}

// SlotPool limita requisições em voo no processo.
//
// Acquire bloqueia até obter uma vaga ou até o ctx encerrar.
// O release retornado deve ser chamado exatamente uma vez.
//
// Não confundir com a capacidade de uma Reservable: o SlotPool é local ao processo
// e nunca é fonte de verdade para ReservedCount.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InFlight informa quantas vagas estão ocupadas agora.
	InFlight() int
}

// Decision é o resultado da admissão de uma chamada, sem nada de HTTP.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}
