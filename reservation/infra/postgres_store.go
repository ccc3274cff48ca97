package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ domain.Store = (*PostgresStore)(nil)

// PgxConn é o subconjunto de *pgxpool.Pool usado pelo PostgresStore.
type PgxConn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ PgxConn = (*pgxpool.Pool)(nil)

// PostgresStore persiste Reservables na tabela `reservables`.
//
// Transact trava a linha com SELECT ... FOR UPDATE (READ COMMITTED), então
// escritores do mesmo id entram em fila em vez de conflitar. O UPDATE ainda
// exige version = $2; zero linhas afetadas, falha de serialização ou deadlock
// viram domain.ErrConflict. O CHECK da tabela repete a invariante
// 0 <= reserved_count <= capacity.
type PostgresStore struct {
	db    PgxConn
	table string
	now   func() time.Time
}

type PostgresStoreOption func(*PostgresStore)

func WithPostgresTable(table string) PostgresStoreOption {
	return func(s *PostgresStore) { s.table = table }
}

func WithPostgresClock(now func() time.Time) PostgresStoreOption {
	return func(s *PostgresStore) { s.now = now }
}

func NewPostgresStore(db PgxConn, opts ...PostgresStoreOption) *PostgresStore {
	s := &PostgresStore{
		db:    db,
		table: "reservables",
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPgxPool abre o pool e valida a conexão com um ping.
func NewPgxPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) q(sql string) string { return strings.ReplaceAll(sql, "{table}", s.table) }

// EnsureSchema cria a tabela se ainda não existir.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, s.q(`
		CREATE TABLE IF NOT EXISTS {table} (
			id             TEXT PRIMARY KEY,
			capacity       INTEGER NOT NULL CHECK (capacity > 0),
			reserved_count INTEGER NOT NULL DEFAULT 0
				CHECK (reserved_count >= 0 AND reserved_count <= capacity),
			status         TEXT NOT NULL CHECK (status IN ('Draft', 'Open', 'Closed')),
			version        BIGINT NOT NULL DEFAULT 1,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		)`))
	return classifyPg(err)
}

const selectCols = `id, capacity, reserved_count, status, version, created_at, updated_at`

func scanReservable(row pgx.Row) (domain.Reservable, error) {
	var r domain.Reservable
	var status string
	err := row.Scan(&r.ID, &r.Capacity, &r.ReservedCount, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	r.Status = domain.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Reservable, error) {
	r, err := scanReservable(s.db.QueryRow(ctx, s.q(`SELECT `+selectCols+` FROM {table} WHERE id = $1`), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservable{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Reservable{}, classifyPg(err)
	}
	return r, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r domain.Reservable) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	_, err := s.db.Exec(ctx, s.q(`
		INSERT INTO {table} (id, capacity, reserved_count, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)`),
		r.ID, r.Capacity, r.ReservedCount, string(r.Status), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, r.ID)
		}
		return classifyPg(err)
	}
	return nil
}

func (s *PostgresStore) Transact(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Reservable{}, classifyPg(err)
	}
	// Rollback depois de Commit é no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	// FOR UPDATE: o próximo escritor do mesmo id espera o COMMIT e lê o valor novo.
	cur, err := scanReservable(tx.QueryRow(ctx, s.q(`SELECT `+selectCols+` FROM {table} WHERE id = $1 FOR UPDATE`), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservable{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Reservable{}, classifyPg(err)
	}

	next, err := fn(cur)
	if err != nil {
		return domain.Reservable{}, err
	}
	next, err = prepareWrite(cur, next, s.now())
	if err != nil {
		return domain.Reservable{}, err
	}

	tag, err := tx.Exec(ctx, s.q(`
		UPDATE {table}
		SET capacity = $3,
			reserved_count = $4,
			status = $5,
			version = $6,
			updated_at = $7
		WHERE id = $1
		AND version = $2`),
		id, cur.Version, next.Capacity, next.ReservedCount, string(next.Status), next.Version, next.UpdatedAt)
	if err != nil {
		return domain.Reservable{}, classifyPg(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Reservable{}, domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Reservable{}, classifyPg(err)
	}
	return next, nil
}

func classifyPg(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return domain.ErrConflict
		case pgerrcode.CheckViolation:
			return fmt.Errorf("%w: %s", domain.ErrInvalidRecord, pgErr.ConstraintName)
		}
	}
	return unavailable(err)
}
