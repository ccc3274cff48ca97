package reservation

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reservation-gateway/reservation/application"
	"reservation-gateway/reservation/domain"
	"reservation-gateway/reservation/infra"

	"go.uber.org/zap"
)

type KeyFunc func(r *http.Request) string

type RateLimitOptions struct {
	Store               domain.LimiterStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Log                 *zap.Logger
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// DefaultKeyFunc identifica o chamador: header configurado, depois X-Forwarded-For
// (se confiável), depois o host de RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				ip := strings.TrimSpace(strings.Split(xff, ",")[0])
				if ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

const ReasonRateLimited domain.Reason = "RateLimited"

// RateLimitMiddleware aplica um token bucket por chamador. Bloqueado => 429 com corpo
// {ok:false, reason:"RateLimited"} e Retry-After em segundos.
func RateLimitMiddleware(opts RateLimitOptions) func(next http.Handler) http.Handler {
	if opts.Store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	admission := application.Admission{Limiters: opts.Store, RetryAfter: opts.RetryAfter}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Store.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", strconv.FormatFloat(ri.RPS(), 'f', -1, 64))
					w.Header().Set("X-RateLimit-Burst", strconv.Itoa(ri.Burst()))
				}
			}

			d := admission.Decide(domain.CallerKey(key))
			if !d.Allowed {
				opts.Log.Debug("rate limited", zap.String("caller", key), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(d.RetryAfter.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests, ResultResponse{OK: false, Reason: ReasonRateLimited})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Log            *zap.Logger
}

// ConcurrencyMiddleware limita requisições em voo no processo; sem vaga dentro do
// AcquireTimeout => 503. AcquireTimeout <= 0 espera até o cliente desistir.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	pool := infra.NewSlotPool(opts.Max)
	slots := application.Slots{Pool: pool, AcquireTimeout: opts.AcquireTimeout}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := slots.Acquire(r.Context())
			if !ok {
				opts.Log.Warn("server busy, request rejected",
					zap.String("path", r.URL.Path),
					zap.Int("in_flight", pool.InFlight()),
					zap.Int("max", opts.Max),
				)
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusServiceUnavailable, ResultResponse{OK: false, Reason: domain.ReasonUnavailable, Error: "server busy"})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLogMiddleware loga método, caminho, status e duração de cada requisição.
func AccessLogMiddleware(log *zap.Logger) func(next http.Handler) http.Handler {
	if log == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
