package infra

import (
	"context"
	"sync"

	"reservation-gateway/reservation/domain"
)

type Counters struct {
	Accepted int64
	Rejected int64
	// Retries soma as tentativas extras gastas pelo Mutator (Attempts-1).
	Retries int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu           sync.Mutex
	total        Counters
	byOp         map[domain.Operation]Counters
	byReason     map[domain.Reason]int64
	byReservable map[string]Counters

	trackReservables bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackReservables(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackReservables = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byOp:         make(map[domain.Operation]Counters),
		byReason:     make(map[domain.Reason]int64),
		byReservable: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = bump(s.total, ev)
	s.byOp[ev.Op] = bump(s.byOp[ev.Op], ev)
	if !ev.OK {
		s.byReason[ev.Reason]++
	}
	if s.trackReservables {
		s.byReservable[ev.ReservableID] = bump(s.byReservable[ev.ReservableID], ev)
	}
	return nil
}

func bump(c Counters, ev domain.StatsEvent) Counters {
	if ev.OK {
		c.Accepted++
	} else {
		c.Rejected++
	}
	if ev.Attempts > 1 {
		c.Retries += int64(ev.Attempts - 1)
	}
	return c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByOp() map[domain.Operation]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Operation]Counters, len(s.byOp))
	for k, v := range s.byOp {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReservable() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byReservable))
	for k, v := range s.byReservable {
		out[k] = v
	}
	return out
}
