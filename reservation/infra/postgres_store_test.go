package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/stretchr/testify/require"
)

// Os testes de Postgres só rodam com RESERVATION_TEST_DATABASE_URL definido.
func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("RESERVATION_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RESERVATION_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPgxPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	n := 0
	runStoreContract(t, storeTraits{}, func(t *testing.T) domain.Store {
		n++
		table := fmt.Sprintf("reservables_test_%d_%d", time.Now().UnixNano(), n)
		s := NewPostgresStore(pool, WithPostgresTable(table))
		require.NoError(t, s.EnsureSchema(ctx))
		t.Cleanup(func() { _, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+table) })
		return s
	})
}
