package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store domain.Store, r domain.Reservable) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), r))
}

func newMemoryService(t *testing.T) (Service, *infra.MemoryStore, *infra.MemoryStatsStore) {
	t.Helper()
	store := infra.NewMemoryStore()
	stats := infra.NewMemoryStatsStore()
	return Service{Mutator: Mutator{Store: store}, Stats: stats}, store, stats
}

func TestService_ScenarioA_TwoConcurrentReservesForOneSlot(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt-a", Capacity: 1, Status: domain.StatusOpen})

	results := make([]domain.Result, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Reserve(context.Background(), "evt-a")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results[i] = res
		}()
	}
	close(start)
	wg.Wait()

	ok, full := 0, 0
	for _, r := range results {
		switch {
		case r.OK:
			ok++
			require.Equal(t, 1, r.ReservedCount)
		case r.Reason == domain.ReasonFull:
			full++
		default:
			t.Fatalf("unexpected result %+v", r)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, full)
}

func TestService_ScenarioB_DraftIsNotOpen(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt-b", Capacity: 3, Status: domain.StatusDraft})
	before, err := store.Get(context.Background(), "evt-b")
	require.NoError(t, err)

	res, err := svc.Reserve(context.Background(), "evt-b")
	require.NoError(t, err)
	require.Equal(t, domain.Rejected(domain.ReasonNotOpen), res)

	after, err := store.Get(context.Background(), "evt-b")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestService_ScenarioC_FullReservable(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt-c", Capacity: 5, ReservedCount: 5, Status: domain.StatusOpen})

	res, err := svc.Reserve(context.Background(), "evt-c")
	require.NoError(t, err)
	require.Equal(t, domain.Rejected(domain.ReasonFull), res)
}

func TestService_ScenarioD_UnknownID(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	res, err := svc.Reserve(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Equal(t, domain.Rejected(domain.ReasonNotFound), res)
}

func TestService_Reserve_InvalidID(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	_, err := svc.Reserve(context.Background(), "a/b")
	require.ErrorIs(t, err, domain.ErrInvalidID)
}

// reserveConcurrently dispara n Reserve ao mesmo tempo e conta os desfechos.
func reserveConcurrently(t *testing.T, svc Service, id string, n int) map[domain.Reason]int {
	t.Helper()

	var mu sync.Mutex
	tally := make(map[domain.Reason]int)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Reserve(context.Background(), id)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			tally[res.Reason]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()
	return tally
}

func TestService_ExactlyOnce_MemoryStore(t *testing.T) {
	cases := []struct {
		name               string
		capacity, reserved int
		callers            int
	}{
		{"partially reserved", 10, 3, 200},
		{"many callers", 25, 0, 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := infra.NewMemoryStore()
			svc := Service{Mutator: Mutator{Store: store}}
			seed(t, store, domain.Reservable{ID: "evt", Capacity: tc.capacity, ReservedCount: tc.reserved, Status: domain.StatusOpen})

			tally := reserveConcurrently(t, svc, "evt", tc.callers)

			k := tc.capacity - tc.reserved
			require.Equal(t, k, tally[domain.ReasonNone])
			require.Equal(t, tc.callers-k, tally[domain.ReasonFull])
			require.Zero(t, tally[domain.ReasonContention])

			got, err := store.Get(context.Background(), "evt")
			require.NoError(t, err)
			require.Equal(t, tc.capacity, got.ReservedCount)
			require.Equal(t, int64(k+1), got.Version)
		})
	}
}

// O Postgres só roda com RESERVATION_TEST_DATABASE_URL definido.
func TestService_ExactlyOnce_PostgresStore(t *testing.T) {
	dsn := os.Getenv("RESERVATION_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RESERVATION_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := infra.NewPgxPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	table := fmt.Sprintf("reservables_svc_%d", time.Now().UnixNano())
	store := infra.NewPostgresStore(pool, infra.WithPostgresTable(table))
	require.NoError(t, store.EnsureSchema(ctx))
	t.Cleanup(func() { _, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+table) })

	svc := Service{Mutator: Mutator{Store: store}}
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 5, Status: domain.StatusOpen})

	const n = 60
	tally := reserveConcurrently(t, svc, "evt", n)

	require.Equal(t, 5, tally[domain.ReasonNone])
	require.Equal(t, n-5, tally[domain.ReasonFull])

	got, err := store.Get(ctx, "evt")
	require.NoError(t, err)
	require.Equal(t, 5, got.ReservedCount)
}

// WATCH/MULTI é otimista: com muitos chamadores no mesmo id o limite de tentativas
// precisa cobrir a fila inteira para que ninguém termine em Contention.
func TestService_ExactlyOnce_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = rdb.Close() })

	store := infra.NewRedisStore(rdb)
	svc := Service{Mutator: Mutator{Store: store, MaxAttempts: 100_000, Backoff: 50 * time.Microsecond}}
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 4, Status: domain.StatusOpen})

	const n = 40
	tally := reserveConcurrently(t, svc, "evt", n)

	require.Equal(t, 4, tally[domain.ReasonNone])
	require.Equal(t, n-4, tally[domain.ReasonFull])

	got, err := store.Get(context.Background(), "evt")
	require.NoError(t, err)
	require.Equal(t, 4, got.ReservedCount)
}

func TestService_Release(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 2, ReservedCount: 1, Status: domain.StatusOpen})
	ctx := context.Background()

	res, err := svc.Release(ctx, "evt")
	require.NoError(t, err)
	require.Equal(t, domain.Result{OK: true, ReservedCount: 0, Capacity: 2}, res)

	res, err = svc.Release(ctx, "evt")
	require.NoError(t, err)
	require.Equal(t, domain.Rejected(domain.ReasonNotReserved), res)

	got, err := store.Get(ctx, "evt")
	require.NoError(t, err)
	require.Equal(t, 0, got.ReservedCount)
}

func TestService_Lifecycle(t *testing.T) {
	svc, _, _ := newMemoryService(t)
	svc.NewID = func() string { return "generated-1" }
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Capacity: 2})
	require.NoError(t, err)
	require.Equal(t, "generated-1", created.ID)
	require.Equal(t, domain.StatusDraft, created.Status)
	require.Equal(t, int64(1), created.Version)

	_, err = svc.Create(ctx, CreateInput{ID: "generated-1", Capacity: 2})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	opened, err := svc.Open(ctx, "generated-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, opened.Status)

	res, err := svc.Reserve(ctx, "generated-1")
	require.NoError(t, err)
	require.True(t, res.OK)

	closed, err := svc.Close(ctx, "generated-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, closed.Status)
	require.Equal(t, 1, closed.ReservedCount, "closing keeps existing reservations")

	res, err = svc.Reserve(ctx, "generated-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReasonNotOpen, res.Reason)

	_, err = svc.Open(ctx, "generated-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	res, err = svc.Release(ctx, "generated-1")
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestService_Create_DefaultIDIsUUID(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	created, err := svc.Create(context.Background(), CreateInput{Capacity: 1})
	require.NoError(t, err)
	require.Len(t, created.ID, 36)
}

func TestService_Create_InvalidCapacity(t *testing.T) {
	svc, _, _ := newMemoryService(t)

	_, err := svc.Create(context.Background(), CreateInput{ID: "x", Capacity: 0})
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestService_SetCapacity(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 5, ReservedCount: 3, Status: domain.StatusOpen})
	ctx := context.Background()

	rec, err := svc.SetCapacity(ctx, "evt", 3)
	require.NoError(t, err)
	require.Equal(t, 3, rec.Capacity)

	_, err = svc.SetCapacity(ctx, "evt", 2)
	require.ErrorIs(t, err, domain.ErrCapacityBelowReserved)

	_, err = svc.SetCapacity(ctx, "evt", 0)
	require.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, err = svc.Close(ctx, "evt")
	require.NoError(t, err)
	_, err = svc.SetCapacity(ctx, "evt", 10)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_GetIsIdempotent(t *testing.T) {
	svc, store, _ := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 5, Status: domain.StatusOpen})

	a, err := svc.Get(context.Background(), "evt")
	require.NoError(t, err)
	b, err := svc.Get(context.Background(), "evt")
	require.NoError(t, err)
	require.Equal(t, a, b)

	_, err = svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_RecordsStatsAfterOutcome(t *testing.T) {
	svc, store, stats := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 1, Status: domain.StatusOpen})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "evt")
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "evt")
	require.NoError(t, err)

	require.Equal(t, infra.Counters{Accepted: 1, Rejected: 1}, stats.Total())
	require.Equal(t, int64(1), stats.ByReason()[domain.ReasonFull])
}

type failingStats struct{}

func (failingStats) Record(context.Context, domain.StatsEvent) error { return errors.New("stats down") }

func TestService_StatsFailureDoesNotChangeOutcome(t *testing.T) {
	store := infra.NewMemoryStore()
	svc := Service{Mutator: Mutator{Store: store}, Stats: failingStats{}}
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 1, Status: domain.StatusOpen})

	res, err := svc.Reserve(context.Background(), "evt")
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestService_StoreUnavailableIsAnError(t *testing.T) {
	store := &conflictStore{err: fmt.Errorf("%w: i/o timeout", domain.ErrStoreUnavailable)}
	stats := infra.NewMemoryStatsStore()
	svc := Service{Mutator: Mutator{Store: store}, Stats: stats}

	_, err := svc.Reserve(context.Background(), "evt")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	require.Equal(t, infra.Counters{}, stats.Total(), "no outcome is recorded for a failed call")
}

func TestService_ContentionIsABusinessOutcome(t *testing.T) {
	svc := Service{Mutator: Mutator{Store: &conflictStore{conflicts: 100}, Backoff: -1}}

	res, err := svc.Reserve(context.Background(), "evt")
	require.NoError(t, err)
	require.Equal(t, domain.Rejected(domain.ReasonContention), res)
}

func TestService_NoStoreConfigured(t *testing.T) {
	_, err := Service{}.Get(context.Background(), "evt")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

// cancelAfterCommit confirma a escrita e logo depois cancela o ctx do chamador,
// como um cliente que desconecta assim que a mutação grava.
type cancelAfterCommit struct {
	*infra.MemoryStore
	cancel context.CancelFunc
}

func (s cancelAfterCommit) Transact(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, error) {
	rec, err := s.MemoryStore.Transact(ctx, id, fn)
	s.cancel()
	return rec, err
}

type ctxCheckingStats struct {
	events []domain.StatsEvent
	errs   []error
}

func (s *ctxCheckingStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	if err := ctx.Err(); err != nil {
		s.errs = append(s.errs, err)
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

func TestService_StatsSurviveCallerDisconnectAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := infra.NewMemoryStore()
	seed(t, mem, domain.Reservable{ID: "evt", Capacity: 2, Status: domain.StatusOpen})
	stats := &ctxCheckingStats{}
	svc := Service{Mutator: Mutator{Store: cancelAfterCommit{MemoryStore: mem, cancel: cancel}}, Stats: stats}

	res, err := svc.Reserve(ctx, "evt")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Error(t, ctx.Err())

	require.Empty(t, stats.errs)
	require.Len(t, stats.events, 1)
	require.True(t, stats.events[0].OK)
	require.Equal(t, "evt", stats.events[0].ReservableID)
}

func TestService_CanceledCallerIsAnErrorWithoutStats(t *testing.T) {
	svc, store, stats := newMemoryService(t)
	seed(t, store, domain.Reservable{ID: "evt", Capacity: 2, Status: domain.StatusOpen})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Reserve(ctx, "evt")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, infra.Counters{}, stats.Total())
}
