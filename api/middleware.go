package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/whetstone-ai/whetstone/internal/metrics"
	"github.com/whetstone-ai/whetstone/types"
)

// RateLimit applies a global token-bucket limit. rps <= 0 disables it.
// The engine is single-user, so one bucket is enough; there is no
// per-client keying.
func RateLimit(rps float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				err := types.NewError(types.ErrInvalidRequest, "rate limit exceeded").
					WithHTTPStatus(http.StatusTooManyRequests).
					WithRetryable(true)
				WriteError(w, err, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Observe records request logs and metrics. collector may be nil.
func Observe(collector *metrics.Collector, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			if collector != nil {
				collector.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, elapsed)
			}
			logger.Debug("request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
}

// Chain applies middlewares right to left, so the first listed runs
// outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
