package rewards

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// метрики

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_requests_total",
			Help: "Кол-во HTTP запросов",
		},
		[]string{"path", "code"},
	)

	httpRequestsError = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_errors_total",
			Help: "Кол-во ошибочных HTTP запросов",
		},
		[]string{"path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewards_http_request_duration_seconds",
			Help:    "Продолжительность HTTP запросов",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "code"},
	)

	playsLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_http_plays_limited_total",
			Help: "Кол-во игр, отклоненных ограничителем частоты",
		},
	)
)

type logResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *logResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Метрики и лог запросов. Метка path - шаблон маршрута, чтобы не плодить серии по пользователям.
func MiddlewareLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqtime := time.Now()
			logrw := &logResponseWriter{w, http.StatusOK}
			next.ServeHTTP(logrw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			labels := prometheus.Labels{
				"path": path,
				"code": strconv.Itoa(logrw.status),
			}
			httpRequestsTotal.With(labels).Inc()
			httpRequestDuration.With(labels).Observe(time.Since(reqtime).Seconds())

			if logrw.status >= http.StatusBadRequest {
				httpRequestsError.With(labels).Inc()
				logger.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("code", logrw.status),
				)
			}
		})
	}
}

// Ограничение частоты игр на пользователя
type PlayLimiter struct {
	mu       sync.Mutex
	limiters map[string]*playLimit
	limit    rate.Limit
	burst    int
	idle     time.Duration
	swept    time.Time
	now      func() time.Time
}

type playLimit struct {
	limiter *rate.Limiter
	seen    time.Time
}

// perMinute <= 0 - без ограничений
func NewPlayLimiter(perMinute float64, burst int) *PlayLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perMinute / 60)
	// за idle ограничитель полностью восстанавливается, удаление не меняет лимит
	idle := time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &PlayLimiter{
		limiters: make(map[string]*playLimit),
		limit:    limit,
		burst:    burst,
		idle:     idle,
		swept:    time.Now(),
		now:      time.Now,
	}
}

func (l *PlayLimiter) Allow(user string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) >= l.idle {
		l.sweep(now)
	}
	pl, ok := l.limiters[user]
	if !ok {
		pl = &playLimit{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[user] = pl
	}
	pl.seen = now
	return pl.limiter.AllowN(now, 1)
}

// удаление ограничителей, не использованных дольше idle
func (l *PlayLimiter) sweep(now time.Time) {
	for user, pl := range l.limiters {
		if now.Sub(pl.seen) >= l.idle {
			delete(l.limiters, user)
		}
	}
	l.swept = now
}

func (l *PlayLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(mux.Vars(r)["user"]) {
			playsLimited.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many plays", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
