// Package reconciler mantém a visão otimista de uma Reservable no lado cliente.
//
// A View aplica +1 localmente assim que o usuário pede a reserva e depois reconcilia
// com o desfecho autoritativo do servidor:
//
//	Idle -> Pending -> Committed   (servidor confirmou: contagem = ReservedCount do servidor)
//	Idle -> Pending -> RolledBack  (rejeição, falha de rede ou abandono: o +1 é desfeito)
//
// A contagem local é só uma cópia consultiva; nunca é fonte de verdade.
// Views diferentes (abas, usuários) são independentes: rollbacks simultâneos são esperados.
package reconciler

import (
	"context"
	"errors"
	"sync"

	"reservation-gateway/reservation/client"
	"reservation-gateway/reservation/domain"

	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Pending
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Pending:
		return "Pending"
	case Committed:
		return "Committed"
	case RolledBack:
		return "RolledBack"
	}
	return "Unknown"
}

// ErrPending é retornado quando já existe uma tentativa em andamento
// (o controle que dispara a reserva está desabilitado).
var ErrPending = errors.New("reservation attempt already pending")

type Reserver interface {
	Reserve(ctx context.Context, id string) (domain.Result, error)
}

type Fetcher interface {
	Get(ctx context.Context, id string) (domain.Reservable, error)
}

// Snapshot é o que a interface exibe.
type Snapshot struct {
	ID            string
	Capacity      int
	ReservedCount int
	Status        domain.Status
	State         State
	// Reason explica o último RolledBack.
	Reason domain.Reason
	// Err guarda a falha de transporte/inesperada do último RolledBack, se houver.
	Err error
}

// ControlEnabled informa se o botão de reservar deve estar habilitado.
func (s Snapshot) ControlEnabled() bool {
	return s.State != Pending && s.Status == domain.StatusOpen
}

type View struct {
	reserver Reserver
	fetcher  Fetcher
	log      *zap.Logger

	mu   sync.Mutex
	snap Snapshot
	subs map[int]func(Snapshot)
	next int
}

type Option func(*View)

func WithFetcher(f Fetcher) Option {
	return func(v *View) { v.fetcher = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(v *View) { v.log = l }
}

func NewView(r Reserver, initial domain.Reservable, opts ...Option) *View {
	v := &View{
		reserver: r,
		log:      zap.NewNop(),
		snap: Snapshot{
			ID:            initial.ID,
			Capacity:      initial.Capacity,
			ReservedCount: initial.ReservedCount,
			Status:        initial.Status,
			State:         Idle,
		},
		subs: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Subscribe registra fn para receber cada novo Snapshot.
// O unsubscribe retornado pode ser chamado mais de uma vez.
func (v *View) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

// set troca o snapshot e avisa os assinantes fora do lock.
func (v *View) set(update func(s *Snapshot)) Snapshot {
	v.mu.Lock()
	update(&v.snap)
	return v.publishLocked()
}

// publishLocked libera v.mu antes de chamar os assinantes.
func (v *View) publishLocked() Snapshot {
	snap := v.snap
	subs := make([]func(Snapshot), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap
}

// Reserve executa uma tentativa completa: +1 otimista, chamada ao servidor, reconciliação.
// Só retorna erro (ErrPending) quando outra tentativa ainda está em andamento; o desfecho
// da tentativa está no Snapshot.
func (v *View) Reserve(ctx context.Context) (Snapshot, error) {
	v.mu.Lock()
	if v.snap.State == Pending {
		snap := v.snap
		v.mu.Unlock()
		return snap, ErrPending
	}
	pre := v.snap
	v.snap.ReservedCount++
	v.snap.State = Pending
	v.snap.Reason = domain.ReasonNone
	v.snap.Err = nil
	v.publishLocked()

	res, err := v.call(ctx, pre.ID)

	if err == nil && res.OK {
		return v.set(func(s *Snapshot) {
			// substitui pelo valor do servidor: outras reservas podem ter entrado no meio
			s.ReservedCount = res.ReservedCount
			if res.Capacity > 0 {
				s.Capacity = res.Capacity
			}
			s.State = Committed
		}), nil
	}

	reason := res.Reason
	if err != nil {
		reason = reasonFor(err)
	}
	v.log.Info("optimistic reservation rolled back",
		zap.String("reservable_id", pre.ID),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return v.set(func(s *Snapshot) {
		s.ReservedCount = pre.ReservedCount
		s.State = RolledBack
		s.Reason = reason
		s.Err = err
	}), nil
}

func (v *View) call(ctx context.Context, id string) (res domain.Result, err error) {
	if v.reserver == nil {
		return domain.Result{}, client.ErrTransport
	}
	return v.reserver.Reserve(ctx, id)
}

func reasonFor(err error) domain.Reason {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonAbandoned
	case errors.As(err, &apiErr) && apiErr.Reason != "":
		return apiErr.Reason
	}
	return domain.ReasonNetworkError
}

// Refresh troca a cópia local pelo estado atual do servidor.
// Com uma tentativa em andamento o resultado é descartado e retorna ErrPending.
func (v *View) Refresh(ctx context.Context) (Snapshot, error) {
	if v.fetcher == nil {
		return v.Snapshot(), errors.New("reconciler: no fetcher configured")
	}
	id := v.Snapshot().ID

	rec, err := v.fetcher.Get(ctx, id)
	if err != nil {
		return v.Snapshot(), err
	}

	v.mu.Lock()
	if v.snap.State == Pending {
		snap := v.snap
		v.mu.Unlock()
		return snap, ErrPending
	}
	v.snap.Capacity = rec.Capacity
	v.snap.ReservedCount = rec.ReservedCount
	v.snap.Status = rec.Status
	v.snap.State = Idle
	v.snap.Reason = domain.ReasonNone
	v.snap.Err = nil
	return v.publishLocked(), nil
}
