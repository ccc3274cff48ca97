package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service concentra a política de reservas.
//
// Não guarda contagens entre chamadas: todo estado autoritativo vem do Store via Mutator.
type Service struct {
	Mutator Mutator
	Stats   domain.StatsStore
	Logger  *zap.Logger

	// NewID gera ids em Create quando o chamador não informa um. Padrão: uuid v4.
	NewID func() string
	// Now só é usado para carimbar eventos de estatística.
	Now func() time.Time
}

type CreateInput struct {
	ID       string
	Capacity int
}

func (s Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Reserve tenta ocupar uma vaga.
//
// Rejeições de negócio (NotFound, NotOpen, Full, Contention) voltam como Result com OK=false.
// Só erros de entrada (ErrInvalidID) e ErrStoreUnavailable voltam como error.
func (s Service) Reserve(ctx context.Context, id string) (domain.Result, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Result{}, err
	}

	rec, attempts, err := s.Mutator.Mutate(ctx, id, func(cur domain.Reservable) (domain.Reservable, error) {
		if cur.Status != domain.StatusOpen {
			return cur, domain.ErrNotOpen
		}
		if cur.Full() {
			return cur, domain.ErrFull
		}
		cur.ReservedCount++
		return cur, nil
	})
	return s.outcome(ctx, domain.OpReserve, id, rec, attempts, err)
}

// Release devolve uma vaga. Permitido com status Open ou Closed.
func (s Service) Release(ctx context.Context, id string) (domain.Result, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Result{}, err
	}

	rec, attempts, err := s.Mutator.Mutate(ctx, id, func(cur domain.Reservable) (domain.Reservable, error) {
		if cur.ReservedCount <= 0 {
			return cur, domain.ErrNotReserved
		}
		cur.ReservedCount--
		return cur, nil
	})
	return s.outcome(ctx, domain.OpRelease, id, rec, attempts, err)
}

func (s Service) outcome(ctx context.Context, op domain.Operation, id string, rec domain.Reservable, attempts int, err error) (domain.Result, error) {
	if errors.Is(err, context.Canceled) {
		s.log().Debug("mutation abandoned by caller",
			zap.String("op", string(op)),
			zap.String("reservable_id", id),
		)
		return domain.Result{}, err
	}
	if err != nil && !domain.IsRejection(err) {
		s.log().Error("mutation failed",
			zap.String("op", string(op)),
			zap.String("reservable_id", id),
			zap.Error(err),
		)
		return domain.Result{}, err
	}

	res := domain.Accepted(rec)
	if err != nil {
		res = domain.Rejected(domain.ReasonOf(err))
	}

	s.log().Debug("mutation outcome",
		zap.String("op", string(op)),
		zap.String("reservable_id", id),
		zap.Bool("ok", res.OK),
		zap.String("reason", string(res.Reason)),
		zap.Int("reserved_count", res.ReservedCount),
		zap.Int("attempts", attempts),
	)

	if s.Stats != nil {
		// o desfecho já está confirmado; o chamador ter desistido não apaga o evento
		if serr := s.Stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
			ReservableID: id,
			Op:           op,
			OK:           res.OK,
			Reason:       res.Reason,
			Attempts:     attempts,
			At:           s.now(),
		}); serr != nil {
			s.log().Warn("stats record failed", zap.Error(serr))
		}
	}
	return res, nil
}

// Create cria uma Reservable em Draft.
func (s Service) Create(ctx context.Context, in CreateInput) (domain.Reservable, error) {
	id := in.ID
	if id == "" {
		if s.NewID != nil {
			id = s.NewID()
		} else {
			id = uuid.NewString()
		}
	}

	rec := domain.Reservable{
		ID:       id,
		Capacity: in.Capacity,
		Status:   domain.StatusDraft,
	}
	if err := rec.Validate(); err != nil {
		return domain.Reservable{}, err
	}
	if err := s.store().Insert(ctx, rec); err != nil {
		return domain.Reservable{}, err
	}

	// Lê de volta para devolver Version/CreatedAt atribuídos pelo Store.
	created, err := s.store().Get(ctx, id)
	if err != nil {
		return domain.Reservable{}, err
	}
	s.log().Info("reservable created", zap.String("reservable_id", id), zap.Int("capacity", in.Capacity))
	return created, nil
}

func (s Service) Open(ctx context.Context, id string) (domain.Reservable, error) {
	return s.transition(ctx, id, domain.StatusOpen)
}

// Close é terminal: reservas existentes ficam, novas são recusadas.
func (s Service) Close(ctx context.Context, id string) (domain.Reservable, error) {
	return s.transition(ctx, id, domain.StatusClosed)
}

func (s Service) transition(ctx context.Context, id string, to domain.Status) (domain.Reservable, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Reservable{}, err
	}
	rec, err := s.mutate(ctx, id, func(cur domain.Reservable) (domain.Reservable, error) {
		if !cur.Status.CanTransition(to) {
			return cur, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, cur.Status, to)
		}
		cur.Status = to
		return cur, nil
	})
	if err != nil {
		return domain.Reservable{}, err
	}
	s.log().Info("reservable status changed", zap.String("reservable_id", id), zap.String("status", string(to)))
	return rec, nil
}

// SetCapacity altera a capacidade, nunca abaixo de ReservedCount.
func (s Service) SetCapacity(ctx context.Context, id string, capacity int) (domain.Reservable, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Reservable{}, err
	}
	if capacity <= 0 {
		return domain.Reservable{}, fmt.Errorf("%w: capacity must be > 0, got %d", domain.ErrInvalidRecord, capacity)
	}

	return s.mutate(ctx, id, func(cur domain.Reservable) (domain.Reservable, error) {
		if cur.Status == domain.StatusClosed {
			return cur, fmt.Errorf("%w: capacity of a closed reservable is frozen", domain.ErrInvalidTransition)
		}
		if capacity < cur.ReservedCount {
			return cur, fmt.Errorf("%w: %d < %d", domain.ErrCapacityBelowReserved, capacity, cur.ReservedCount)
		}
		cur.Capacity = capacity
		return cur, nil
	})
}

func (s Service) mutate(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, error) {
	rec, _, err := s.Mutator.Mutate(ctx, id, fn)
	return rec, err
}

// Get lê direto do Store. Duas leituras sem mutação no meio retornam o mesmo valor.
func (s Service) Get(ctx context.Context, id string) (domain.Reservable, error) {
	if err := domain.ValidateID(id); err != nil {
		return domain.Reservable{}, err
	}
	return s.store().Get(ctx, id)
}

func (s Service) store() domain.Store {
	if s.Mutator.Store == nil {
		return unavailableStore{}
	}
	return s.Mutator.Store
}

type unavailableStore struct{}

var errNoStore = fmt.Errorf("%w: no store configured", domain.ErrStoreUnavailable)

func (unavailableStore) Get(context.Context, string) (domain.Reservable, error) {
	return domain.Reservable{}, errNoStore
}

func (unavailableStore) Insert(context.Context, domain.Reservable) error { return errNoStore }

func (unavailableStore) Transact(context.Context, string, domain.TxFunc) (domain.Reservable, error) {
	return domain.Reservable{}, errNoStore
}
