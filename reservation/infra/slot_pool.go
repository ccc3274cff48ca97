package infra

import (
	"context"
	"sync"

	"reservation-gateway/reservation/domain"
)

var _ domain.SlotPool = (*RequestSlots)(nil)

// RequestSlots é um semáforo de requisições em voo sobre um channel com buffer.
type RequestSlots struct {
	sem chan struct{}
}

// NewSlotPool cria o pool com `size` vagas de processamento.
func NewSlotPool(size int) *RequestSlots {
	return &RequestSlots{sem: make(chan struct{}, size)}
}

// Acquire devolve um release idempotente: chamar duas vezes não libera uma vaga alheia.
func (p *RequestSlots) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *RequestSlots) InFlight() int { return len(p.sem) }
func (p *RequestSlots) Size() int     { return cap(p.sem) }
