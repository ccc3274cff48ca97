package infra

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reservation-gateway/reservation/domain"
)

var _ domain.Store = (*MemoryStore)(nil)

// MemoryStore guarda registros em memória.
//
// Transact faz leitura, fn e escrita inteiras sob o mesmo lock: escritores do
// mesmo processo são serializados e nunca há domain.ErrConflict.
// fn não pode chamar o próprio store (o lock não é reentrante).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.Reservable
	now     func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]domain.Reservable),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Reservable, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservable{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.Reservable{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec, nil
}

func (s *MemoryStore) Insert(ctx context.Context, r domain.Reservable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, r.ID)
	}
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) Transact(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservable{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return domain.Reservable{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	next, err := fn(cur)
	if err != nil {
		return domain.Reservable{}, err
	}
	next, err = prepareWrite(cur, next, s.now())
	if err != nil {
		return domain.Reservable{}, err
	}
	s.records[id] = next
	return next, nil
}

// IDs lista os ids em ordem.
func (s *MemoryStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// prepareWrite aplica as regras comuns a toda escrita de Transact:
// id imutável, CreatedAt preservado, Version+1, UpdatedAt avançado e invariantes válidas.
func prepareWrite(cur, next domain.Reservable, now time.Time) (domain.Reservable, error) {
	if next.ID != cur.ID {
		return domain.Reservable{}, fmt.Errorf("%w: id is immutable (%s -> %s)", domain.ErrInvalidRecord, cur.ID, next.ID)
	}
	if err := next.Validate(); err != nil {
		return domain.Reservable{}, err
	}

	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	// precisão de microssegundo, a mesma do TIMESTAMPTZ
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Microsecond)
	}
	next.UpdatedAt = now
	return next, nil
}
