package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"reservation-gateway/reservation"
	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env é opcional; variáveis já definidas no ambiente têm prioridade.
	envErr := godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if envErr == nil {
		logger.Info("loaded .env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, stats, health, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.String("backend", cfg.storeBackend), zap.Error(err))
	}
	defer closeStore()

	svc := application.Service{
		Mutator: application.Mutator{
			Store:       store,
			MaxAttempts: cfg.maxAttempts,
			Backoff:     cfg.backoff,
			Logger:      logger.Named("mutator"),
		},
		Stats:  stats,
		Logger: logger.Named("service"),
	}
	seedReservables(ctx, svc, cfg.seeds, logger)

	api := reservation.NewHandler(svc, logger.Named("http"))
	api.Health = health
	mux := http.NewServeMux()
	api.Routes(mux)

	limiters := infra.NewLimiterStore(cfg.rateRPS, cfg.rateBurst)
	limiters.StartJanitor(ctx)

	h := http.Handler(mux)
	h = reservation.ConcurrencyMiddleware(reservation.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
		Log:            logger.Named("concurrency"),
	})(h)
	if cfg.rateEnabled {
		h = reservation.RateLimitMiddleware(reservation.RateLimitOptions{
			Store:               limiters,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
			Log:                 logger.Named("ratelimit"),
		})(h)
	}
	h = reservation.AccessLogMiddleware(logger.Named("access"))(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("reservation server listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("backend", cfg.storeBackend),
		zap.Int("maxAttempts", cfg.maxAttempts),
		zap.Duration("backoff", cfg.backoff),
	)
	logger.Info("rate limit",
		zap.Bool("enabled", cfg.rateEnabled),
		zap.Float64("rps", cfg.rateRPS),
		zap.Int("burst", cfg.rateBurst),
		zap.String("keyHeader", cfg.rateKeyHeader),
		zap.Bool("trustXFF", cfg.trustXFF),
	)
	logger.Info("concurrency", zap.Int("max", cfg.concurrencyMax), zap.Duration("acquireTimeout", cfg.concurrencyTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	if m, ok := stats.(*infra.MemoryStatsStore); ok {
		total := m.Total()
		logger.Info("stats",
			zap.Int64("accepted", total.Accepted),
			zap.Int64("rejected", total.Rejected),
			zap.Int64("retries", total.Retries),
		)
	}
}

func newLogger(cfg config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.logDev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

// openBackend monta o Store escolhido, o StatsStore (nil se desligado) e o health check.
func openBackend(ctx context.Context, cfg config, logger *zap.Logger) (domain.Store, domain.StatsStore, func(context.Context) error, func(), error) {
	var stats domain.StatsStore
	if cfg.statsEnabled {
		stats = infra.NewMemoryStatsStore(infra.WithTrackReservables(cfg.statsTrackRecords))
	}

	switch cfg.storeBackend {
	case backendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, nil, nil, nil, err
		}
		if cfg.statsEnabled {
			stats = infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.statsPrefix),
				infra.WithStatsTTL(cfg.statsTTL),
				infra.WithStatsBucket(cfg.statsBucket),
				infra.WithStatsTrackReservables(cfg.statsTrackRecords),
			)
		}
		health := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return infra.NewRedisStore(rdb, infra.WithRedisPrefix(cfg.redisPrefix)), stats, health,
			func() { _ = rdb.Close() }, nil

	case backendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := infra.NewPgxPool(connectCtx, cfg.databaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		store := infra.NewPostgresStore(pool, infra.WithPostgresTable(cfg.pgTable))
		if err := store.EnsureSchema(connectCtx); err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		return store, stats, pool.Ping, pool.Close, nil
	}

	logger.Warn("using in-memory store: data is lost on restart and not shared between processes")
	return infra.NewMemoryStore(), stats, nil, func() {}, nil
}

func seedReservables(ctx context.Context, svc application.Service, seeds []seed, logger *zap.Logger) {
	for _, s := range seeds {
		_, err := svc.Create(ctx, application.CreateInput{ID: s.id, Capacity: s.capacity})
		if errors.Is(err, domain.ErrAlreadyExists) {
			logger.Info("seed already present", zap.String("reservable_id", s.id))
			continue
		}
		if err != nil {
			logger.Warn("seed create failed", zap.String("reservable_id", s.id), zap.Error(err))
			continue
		}
		if _, err := svc.Open(ctx, s.id); err != nil {
			logger.Warn("seed open failed", zap.String("reservable_id", s.id), zap.Error(err))
			continue
		}
		logger.Info("seeded reservable", zap.String("reservable_id", s.id), zap.Int("capacity", s.capacity))
	}
}
