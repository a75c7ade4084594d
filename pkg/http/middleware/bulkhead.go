package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// bulkheadMiddleware caps concurrent requests and rejects a request that
// cannot get a slot within timeout.
func bulkheadMiddleware(sem *semaphore.Weighted, timeout time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := sem.Acquire(ctx, 1)
			cancel()
			if err != nil {
				log.Warn("HTTP bulkhead full, rejecting request", append(requestFields(r), zap.Error(err))...)
				problems.Write(w, r, problems.ServiceUnavailable(ErrBulkheadFull.Error()))
				return
			}
			defer sem.Release(1)

			next.ServeHTTP(w, r)
		})
	}
}

func NewBulkheadMiddleware(cfg BulkheadConfig, log *zap.Logger, priority int) Middleware {
	if !*cfg.Enabled {
		return Middleware{Priority: priority}
	}
	log.Info("HTTP bulkhead initialized",
		zap.Int("max-concurrent", cfg.MaxConcurrent),
		zap.Duration("timeout", cfg.Timeout),
	)
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	return Middleware{Priority: priority, Handler: bulkheadMiddleware(sem, cfg.Timeout, log)}
}
