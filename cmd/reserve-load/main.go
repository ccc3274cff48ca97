// reserve-load dispara N reservas concorrentes contra um servidor e confere
// que nenhuma vaga foi vendida duas vezes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/client"
	"reservation-gateway/reservation/domain"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type tally struct {
	mu       sync.Mutex
	accepted int
	byReason map[domain.Reason]int
	errors   int
	maxSeen  int
}

func (t *tally) add(res domain.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err != nil:
		t.errors++
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			t.byReason[apiErr.Reason]++
		}
	case res.OK:
		t.accepted++
		t.maxSeen = max(t.maxSeen, res.ReservedCount)
	default:
		t.byReason[res.Reason]++
	}
}

func main() {
	_ = godotenv.Load()

	var (
		baseURL = flag.String("url", envOr("RESERVATION_URL", "http://localhost:8080"), "base URL of the reservation server")
		id      = flag.String("id", "", "reservable id (empty + -create: generated)")
		create  = flag.Int("create", 0, "create and open a reservable with this capacity before firing")
		n       = flag.Int("n", 100, "number of reserve calls")
		workers = flag.Int("c", 20, "concurrent callers")
		key     = flag.String("key", os.Getenv("RESERVATION_API_KEY"), "value for X-Api-Key")
		timeout = flag.Duration("timeout", 30*time.Second, "overall deadline")
		verbose = flag.Bool("v", false, "log every call")
	)
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	c := client.New(*baseURL)
	c.CallerKey = *key

	if *create > 0 {
		if *id == "" {
			*id = "load-" + uuid.NewString()
		}
		if _, err := c.Create(ctx, reservation.CreateRequest{ID: *id, Capacity: *create}); err != nil {
			fail("create %s: %v", *id, err)
		}
		if _, err := c.Open(ctx, *id); err != nil {
			fail("open %s: %v", *id, err)
		}
	}
	if *id == "" {
		fail("-id is required (or use -create)")
	}

	before, err := c.Get(ctx, *id)
	if err != nil {
		fail("get %s: %v", *id, err)
	}

	t := &tally{byReason: map[domain.Reason]int{}}
	jobs := make(chan int)
	var wg sync.WaitGroup
	start := time.Now()
	for range max(*workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := c.Reserve(ctx, *id)
				logger.Debug("reserve", zap.Int("call", i), zap.Bool("ok", res.OK),
					zap.String("reason", string(res.Reason)), zap.Error(err))
				t.add(res, err)
			}
		}()
	}
	for i := range *n {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	after, err := c.Get(ctx, *id)
	if err != nil {
		fail("get %s: %v", *id, err)
	}

	fmt.Printf("reservable %s: capacity=%d reserved %d -> %d (%s)\n", *id, after.Capacity, before.ReservedCount, after.ReservedCount, after.Status)
	fmt.Printf("calls=%d accepted=%d errors=%d elapsed=%s\n", *n, t.accepted, t.errors, elapsed.Round(time.Millisecond))
	reasons := make([]string, 0, len(t.byReason))
	for r := range t.byReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("  %-22s %d\n", r, t.byReason[domain.Reason(r)])
	}

	// Só vale com o servidor sem outros clientes durante a carga.
	if after.ReservedCount > after.Capacity || after.ReservedCount-before.ReservedCount != t.accepted {
		fail("mismatch: %d accepted but count moved by %d", t.accepted, after.ReservedCount-before.ReservedCount)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "reserve-load: "+format+"\n", args...)
	os.Exit(1)
}
