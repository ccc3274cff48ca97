package infra

import (
	"context"
	"sync"
	"time"

	"reservation-gateway/reservation/domain"

	"golang.org/x/time/rate"
)

var _ domain.LimiterStore = (*LimiterStore)(nil)

// LimiterStore guarda um token bucket (x/time/rate) por chamador da API.
//
// Chamadores que somem são esquecidos pelo janitor, mas só depois que o bucket
// deles voltou a encher: quem foi freado não ganha uma rajada nova por ficar
// parado menos tempo do que o refill leva. Não participa da contagem de vagas.
type LimiterStore struct {
	mu      sync.Mutex
	callers map[domain.CallerKey]*callerBucket
	rps     rate.Limit
	burst   int
	now     func() time.Time

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type callerBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*LimiterStore)

// WithIdleTTL define há quanto tempo um chamador precisa estar parado para ser esquecido.
func WithIdleTTL(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(s *LimiterStore) { s.cleanupEvery = d }
}

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(s *LimiterStore) { s.now = now }
}

func NewLimiterStore(rps float64, burst int, opts ...LimiterOption) *LimiterStore {
	s := &LimiterStore{
		callers:      make(map[domain.CallerKey]*callerBucket),
		rps:          rate.Limit(rps),
		burst:        burst,
		now:          time.Now,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LimiterStore) RPS() float64 { return float64(s.rps) }
func (s *LimiterStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *LimiterStore) Get(key domain.CallerKey) domain.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.callers[key]
	if !ok {
		b = &callerBucket{lim: rate.NewLimiter(s.rps, s.burst)}
		s.callers[key] = b
	}
	b.lastSeen = now
	return limiterAt{lim: b.lim, now: s.now}
}

// limiterAt consome tokens no relógio do store.
type limiterAt struct {
	lim *rate.Limiter
	now func() time.Time
}

func (l limiterAt) Allow() bool { return l.lim.AllowN(l.now(), 1) }

// Callers informa quantos chamadores têm bucket ativo.
func (s *LimiterStore) Callers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callers)
}

// EvictIdle esquece chamadores parados há mais de idleTTL cujo bucket já encheu.
// Retorna quantos foram removidos.
func (s *LimiterStore) EvictIdle(now time.Time) int {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, b := range s.callers {
		if !b.lastSeen.Before(cutoff) {
			continue
		}
		if b.lim.TokensAt(now) < float64(s.burst) {
			// ainda pagando a rajada anterior
			continue
		}
		delete(s.callers, key)
		evicted++
	}
	return evicted
}

// StartJanitor roda EvictIdle periodicamente até o ctx encerrar.
func (s *LimiterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.EvictIdle(s.now())
			}
		}
	}()
}
