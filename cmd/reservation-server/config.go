package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	listenAddr string
	logLevel   string
	logDev     bool

	storeBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	databaseURL   string
	pgTable       string

	maxAttempts int
	backoff     time.Duration

	rateEnabled        bool
	rateRPS            float64
	rateBurst          int
	rateKeyHeader      string
	trustXFF           bool
	retryAfter         time.Duration
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration

	statsEnabled      bool
	statsPrefix       string
	statsTTL          time.Duration
	statsBucket       string
	statsTrackRecords bool

	seeds []seed
}

// seed é uma Reservable criada (e aberta) na subida, para ambiente de desenvolvimento.
type seed struct {
	id       string
	capacity int
}

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logDev = getenvBoolDefault("LOG_DEV", false)

	cfg.storeBackend = strings.ToLower(getenvDefault("STORE_BACKEND", backendMemory))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "reservation:reservable")
	cfg.databaseURL = os.Getenv("DATABASE_URL")
	cfg.pgTable = getenvDefault("PG_TABLE", "reservables")

	cfg.maxAttempts = getenvIntDefault("MUTATOR_MAX_ATTEMPTS", 5)
	cfg.backoff = getenvDurationDefault("MUTATOR_BACKOFF", 2*time.Millisecond)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	// Com RPS abaixo de 1 o burst padrão deixaria passar uma rajada grande demais.
	if burst, ok := getenvInt("RATE_BURST"); ok {
		cfg.rateBurst = burst
	} else {
		cfg.rateBurst = 20
		if getenvIsSet("RATE_RPS") && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.rateKeyHeader = getenvDefault("RATE_KEY_HEADER", "X-Api-Key")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "reservation:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackRecords = getenvBoolDefault("STATS_TRACK_RESERVABLES", false)

	seeds, err := parseSeeds(os.Getenv("SEED_RESERVABLES"))
	if err != nil {
		return config{}, err
	}
	cfg.seeds = seeds

	switch cfg.storeBackend {
	case backendMemory:
	case backendRedis:
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	case backendPostgres:
		if strings.TrimSpace(cfg.databaseURL) == "" {
			return config{}, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return config{}, fmt.Errorf("STORE_BACKEND must be memory, redis or postgres (got %q)", cfg.storeBackend)
	}

	if cfg.maxAttempts <= 0 {
		return config{}, errors.New("MUTATOR_MAX_ATTEMPTS must be > 0")
	}
	if cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.statsBucket != "minute" && cfg.statsBucket != "none" {
		return config{}, errors.New("STATS_BUCKET must be minute or none")
	}
	return cfg, nil
}

// parseSeeds lê "id=capacidade,id2=capacidade".
func parseSeeds(raw string) ([]seed, error) {
	var out []seed
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, capRaw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("SEED_RESERVABLES: %q must be id=capacity", part)
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(capRaw))
		if err != nil || capacity <= 0 {
			return nil, fmt.Errorf("SEED_RESERVABLES: invalid capacity in %q", part)
		}
		out = append(out, seed{id: strings.TrimSpace(id), capacity: capacity})
	}
	return out, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
