package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Millisecond
)

// Mutator executa read-check-write sobre um único id, isolado de outras mutações do mesmo id.
//
// Cada tentativa é um Store.Transact completo. Em ErrConflict a tentativa inteira é refeita,
// até MaxAttempts; depois disso retorna ErrContention. Qualquer outro erro sobe na hora.
type Mutator struct {
	Store       domain.Store
	MaxAttempts int
	// Backoff é a espera base entre tentativas (linear por tentativa, com jitter).
	// Se 0, usa DefaultBackoff; se < 0, não espera.
	Backoff time.Duration
	Logger  *zap.Logger
}

// Mutate retorna o valor confirmado e quantas tentativas foram usadas.
func (m Mutator) Mutate(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, int, error) {
	if m.Store == nil {
		return domain.Reservable{}, 0, fmt.Errorf("%w: no store configured", domain.ErrStoreUnavailable)
	}
	maxAttempts := m.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	log := m.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Reservable{}, attempt - 1, err
		}

		rec, err := m.Store.Transact(ctx, id, fn)
		if err == nil {
			return rec, attempt, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Reservable{}, attempt, err
		}

		if attempt >= maxAttempts {
			log.Warn("mutation contention",
				zap.String("reservable_id", id),
				zap.Int("attempts", attempt),
			)
			return domain.Reservable{}, attempt, fmt.Errorf("%w: %s after %d attempts", domain.ErrContention, id, attempt)
		}

		log.Debug("mutation conflict, retrying",
			zap.String("reservable_id", id),
			zap.Int("attempt", attempt),
		)
		if err := m.wait(ctx, attempt); err != nil {
			return domain.Reservable{}, attempt, err
		}
	}
}

func (m Mutator) wait(ctx context.Context, attempt int) error {
	base := m.Backoff
	if base == 0 {
		base = DefaultBackoff
	}
	if base < 0 {
		return nil
	}

	d := time.Duration(attempt) * base
	d += time.Duration(rand.Int64N(int64(base)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
