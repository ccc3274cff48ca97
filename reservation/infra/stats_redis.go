package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de desfecho em hashes do Redis.
//
// Chaves:
//   - <prefix>:total             accepted / rejected / retries (cumulativo, sem TTL)
//   - <prefix>:minute:<yyyymmddhhmm> mesmo formato, com TTL
//   - <prefix>:reason            <op>:<reason> -> contagem
//   - <prefix>:reservable:<id>   por reservable, com TTL (opcional)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por reservable.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackReservables bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackReservables(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackReservables = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "reservation:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "rejected"
	if ev.OK {
		field = "accepted"
	}
	retries := int64(0)
	if ev.Attempts > 1 {
		retries = int64(ev.Attempts - 1)
	}

	pipe := s.rdb.Pipeline()

	incr := func(key string, expire bool) {
		pipe.HIncrBy(ctx, key, field, 1)
		if retries > 0 {
			pipe.HIncrBy(ctx, key, "retries", retries)
		}
		if expire && s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	incr(s.prefix+":total", false)

	if s.bucket == "minute" {
		incr(fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")), true)
	}

	if !ev.OK && ev.Reason != "" {
		pipe.HIncrBy(ctx, s.prefix+":reason", string(ev.Op)+":"+string(ev.Reason), 1)
	}

	if s.trackReservables {
		if id := strings.TrimSpace(ev.ReservableID); id != "" {
			incr(s.prefix+":reservable:"+id, true)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
