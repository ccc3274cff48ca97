package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/redis/go-redis/v9"
)

var _ domain.Store = (*RedisStore)(nil)

// RedisStore guarda cada Reservable em um hash "<prefix>:<id>".
//
// Transact usa WATCH na chave + MULTI/EXEC: se outro cliente escreveu na chave
// entre o WATCH e o EXEC, o EXEC falha (redis.TxFailedErr) e vira domain.ErrConflict.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "reservation:reservable",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string { return s.prefix + ":" + id }

const (
	fieldCapacity  = "capacity"
	fieldReserved  = "reserved_count"
	fieldStatus    = "status"
	fieldVersion   = "version"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Reservable, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return domain.Reservable{}, unavailable(err)
	}
	return decodeHash(id, m)
}

func (s *RedisStore) Insert(ctx context.Context, r domain.Reservable) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	key := s.key(r.ID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return unavailable(err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, r.ID)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encodeHash(r))
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// alguém criou a mesma chave entre o WATCH e o EXEC
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, r.ID)
	}
	return classifyRedis(err)
}

func (s *RedisStore) Transact(ctx context.Context, id string, fn domain.TxFunc) (domain.Reservable, error) {
	key := s.key(id)

	var out domain.Reservable
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return unavailable(err)
		}
		cur, err := decodeHash(id, m)
		if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		next, err = prepareWrite(cur, next, s.now())
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encodeHash(next))
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}, key)

	if err != nil {
		return domain.Reservable{}, classifyRedis(err)
	}
	return out, nil
}

func classifyRedis(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return domain.ErrConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case domain.ReasonOf(err) != domain.ReasonUnavailable:
		// erro de domínio (rejeição do fn, NotFound, registro inválido): sobe intacto
		return err
	case errors.Is(err, domain.ErrStoreUnavailable):
		return err
	}
	return unavailable(err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

func encodeHash(r domain.Reservable) map[string]any {
	return map[string]any{
		fieldCapacity:  r.Capacity,
		fieldReserved:  r.ReservedCount,
		fieldStatus:    string(r.Status),
		fieldVersion:   r.Version,
		fieldCreatedAt: r.CreatedAt.UnixNano(),
		fieldUpdatedAt: r.UpdatedAt.UnixNano(),
	}
}

func decodeHash(id string, m map[string]string) (domain.Reservable, error) {
	if len(m) == 0 {
		return domain.Reservable{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	r := domain.Reservable{ID: id, Status: domain.Status(m[fieldStatus])}
	var err error
	if r.Capacity, err = strconv.Atoi(m[fieldCapacity]); err != nil {
		return domain.Reservable{}, corrupt(id, fieldCapacity, err)
	}
	if r.ReservedCount, err = strconv.Atoi(m[fieldReserved]); err != nil {
		return domain.Reservable{}, corrupt(id, fieldReserved, err)
	}
	if r.Version, err = strconv.ParseInt(m[fieldVersion], 10, 64); err != nil {
		return domain.Reservable{}, corrupt(id, fieldVersion, err)
	}
	created, err := strconv.ParseInt(m[fieldCreatedAt], 10, 64)
	if err != nil {
		return domain.Reservable{}, corrupt(id, fieldCreatedAt, err)
	}
	updated, err := strconv.ParseInt(m[fieldUpdatedAt], 10, 64)
	if err != nil {
		return domain.Reservable{}, corrupt(id, fieldUpdatedAt, err)
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

func corrupt(id, field string, err error) error {
	return fmt.Errorf("%w: reservable %s has corrupt field %s: %v", domain.ErrStoreUnavailable, id, field, err)
}
