package application

import (
	"context"
	"time"

	"reservation-gateway/reservation/domain"
)

// Admission decide se um chamador pode fazer mais uma chamada agora (token bucket por chave).
// Não sabe nada sobre HTTP: só devolve a decisão.
type Admission struct {
	Limiters   domain.LimiterStore
	RetryAfter time.Duration
}

func (a Admission) Decide(key domain.CallerKey) domain.Decision {
	if a.Limiters == nil {
		return domain.Decision{Allowed: true}
	}
	if a.RetryAfter <= 0 {
		a.RetryAfter = 1 * time.Second
	}

	lim := a.Limiters.Get(key)
	if lim == nil || lim.Allow() {
		return domain.Decision{Allowed: true}
	}
	return domain.Decision{Allowed: false, RetryAfter: a.RetryAfter}
}

// Slots controla as vagas de processamento em voo.
//   - AcquireTimeout <= 0: espera até o ctx encerrar.
//   - AcquireTimeout > 0: desiste depois do timeout.
type Slots struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

func (s Slots) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
