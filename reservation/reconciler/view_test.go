package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/client"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"github.com/stretchr/testify/require"
)

// gatedReserver segura a resposta até release ser fechado.
type gatedReserver struct {
	started chan struct{}
	release chan struct{}
	res     domain.Result
	err     error
}

func newGated(res domain.Result, err error) *gatedReserver {
	return &gatedReserver{started: make(chan struct{}, 1), release: make(chan struct{}), res: res, err: err}
}

func (g *gatedReserver) Reserve(ctx context.Context, id string) (domain.Result, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return g.res, g.err
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

type stubReserver struct {
	res domain.Result
	err error
}

func (s stubReserver) Reserve(context.Context, string) (domain.Result, error) { return s.res, s.err }

func openEvent(count, capacity int) domain.Reservable {
	return domain.Reservable{ID: "evt", Capacity: capacity, ReservedCount: count, Status: domain.StatusOpen}
}

func TestView_CommitUsesServerCount(t *testing.T) {
	// outra pessoa reservou entre a leitura local e a confirmação
	v := NewView(stubReserver{res: domain.Result{OK: true, ReservedCount: 4, Capacity: 5}}, openEvent(2, 5))

	snap, err := v.Reserve(context.Background())
	require.NoError(t, err)
	require.Equal(t, Committed, snap.State)
	require.Equal(t, 4, snap.ReservedCount)
	require.Equal(t, 5, snap.Capacity)
}

func TestView_RejectionRollsBackToPreviousValue(t *testing.T) {
	for _, reason := range []domain.Reason{domain.ReasonFull, domain.ReasonNotOpen, domain.ReasonNotFound, domain.ReasonContention} {
		t.Run(string(reason), func(t *testing.T) {
			v := NewView(stubReserver{res: domain.Rejected(reason)}, openEvent(3, 5))

			snap, err := v.Reserve(context.Background())
			require.NoError(t, err)
			require.Equal(t, RolledBack, snap.State)
			require.Equal(t, reason, snap.Reason)
			require.Equal(t, 3, snap.ReservedCount)
		})
	}
}

func TestView_TransportErrorRollsBackWithNetworkError(t *testing.T) {
	boom := fmt.Errorf("%w: connection reset", client.ErrTransport)
	v := NewView(stubReserver{err: boom}, openEvent(1, 5))

	snap, err := v.Reserve(context.Background())
	require.NoError(t, err)
	require.Equal(t, RolledBack, snap.State)
	require.Equal(t, domain.ReasonNetworkError, snap.Reason)
	require.ErrorIs(t, snap.Err, client.ErrTransport)
	require.Equal(t, 1, snap.ReservedCount)
}

func TestView_APIErrorKeepsServerReason(t *testing.T) {
	apiErr := &client.APIError{Status: http.StatusTooManyRequests, Reason: reservation.ReasonRateLimited}
	v := NewView(stubReserver{err: apiErr}, openEvent(0, 5))

	snap, err := v.Reserve(context.Background())
	require.NoError(t, err)
	require.Equal(t, reservation.ReasonRateLimited, snap.Reason)
	require.Equal(t, 0, snap.ReservedCount)
}

func TestView_PendingIsVisibleAndBlocksSecondAttempt(t *testing.T) {
	g := newGated(domain.Accepted(domain.Reservable{Capacity: 5, ReservedCount: 3}), nil)
	v := NewView(g, openEvent(2, 5))

	var (
		mu   sync.Mutex
		seen []Snapshot
	)
	unsubscribe := v.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	done := make(chan Snapshot)
	go func() {
		snap, err := v.Reserve(context.Background())
		if err != nil {
			t.Errorf("reserve: %v", err)
		}
		done <- snap
	}()
	<-g.started

	pending := v.Snapshot()
	require.Equal(t, Pending, pending.State)
	require.Equal(t, 3, pending.ReservedCount)
	require.False(t, pending.ControlEnabled())

	_, err := v.Reserve(context.Background())
	require.ErrorIs(t, err, ErrPending)
	_, err = v.Refresh(context.Background())
	require.Error(t, err)

	close(g.release)
	final := <-done
	require.Equal(t, Committed, final.State)
	require.True(t, final.ControlEnabled())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.Equal(t, Pending, seen[0].State)
	require.Equal(t, Committed, seen[1].State)
}

func TestView_CancelWhilePendingIsAbandoned(t *testing.T) {
	g := newGated(domain.Result{}, nil)
	v := NewView(g, openEvent(1, 5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Snapshot)
	go func() {
		snap, _ := v.Reserve(ctx)
		done <- snap
	}()
	<-g.started
	cancel()

	snap := <-done
	require.Equal(t, RolledBack, snap.State)
	require.Equal(t, domain.ReasonAbandoned, snap.Reason)
	require.Equal(t, 1, snap.ReservedCount)
}

func TestView_UnsubscribeIsIdempotent(t *testing.T) {
	v := NewView(stubReserver{res: domain.Rejected(domain.ReasonFull)}, openEvent(5, 5))

	calls := 0
	unsubscribe := v.Subscribe(func(Snapshot) { calls++ })
	unsubscribe()
	unsubscribe()

	_, err := v.Reserve(context.Background())
	require.NoError(t, err)
	require.Zero(t, calls)
}

func TestView_ClosedDisablesControl(t *testing.T) {
	rec := openEvent(0, 1)
	rec.Status = domain.StatusClosed
	v := NewView(stubReserver{}, rec)
	require.False(t, v.Snapshot().ControlEnabled())
}

type fetcherFunc func(ctx context.Context, id string) (domain.Reservable, error)

func (f fetcherFunc) Get(ctx context.Context, id string) (domain.Reservable, error) {
	return f(ctx, id)
}

func TestView_Refresh(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, id string) (domain.Reservable, error) {
		return domain.Reservable{ID: id, Capacity: 8, ReservedCount: 6, Status: domain.StatusClosed}, nil
	})
	v := NewView(stubReserver{}, openEvent(1, 5), WithFetcher(f))

	snap, err := v.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, Idle, snap.State)
	require.Equal(t, 6, snap.ReservedCount)
	require.Equal(t, 8, snap.Capacity)
	require.Equal(t, domain.StatusClosed, snap.Status)

	failing := fetcherFunc(func(context.Context, string) (domain.Reservable, error) {
		return domain.Reservable{}, errors.New("down")
	})
	v2 := NewView(stubReserver{}, openEvent(1, 5), WithFetcher(failing))
	snap, err = v2.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, snap.ReservedCount)
}

func TestView_RefreshWithoutFetcher(t *testing.T) {
	v := NewView(stubReserver{}, openEvent(0, 1))
	_, err := v.Refresh(context.Background())
	require.Error(t, err)
}

// Várias views independentes contra o mesmo servidor: exatamente capacity commits,
// o resto volta para o valor anterior com Full.
func TestView_ManyViewsAgainstOneServer(t *testing.T) {
	store := infra.NewMemoryStore()
	require.NoError(t, store.Insert(context.Background(), openEvent(0, 3)))

	mux := http.NewServeMux()
	svc := application.Service{Mutator: application.Mutator{Store: store}}
	reservation.NewHandler(svc, nil).Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.New(srv.URL)
	c.HTTP = srv.Client()

	const views = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		full      int
	)
	for range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := NewView(c, openEvent(0, 3), WithFetcher(c))
			snap, err := v.Reserve(context.Background())
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case snap.State == Committed:
				committed++
				if snap.ReservedCount < 1 || snap.ReservedCount > 3 {
					t.Errorf("committed count out of range: %d", snap.ReservedCount)
				}
			case snap.Reason == domain.ReasonFull:
				full++
				if snap.ReservedCount != 0 {
					t.Errorf("rollback should restore 0, got %d", snap.ReservedCount)
				}
			default:
				t.Errorf("unexpected outcome %+v", snap)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, committed)
	require.Equal(t, views-3, full)

	v := NewView(c, openEvent(0, 3), WithFetcher(c))
	snap, err := v.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, snap.ReservedCount)
}
