package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"go.uber.org/zap"
)

// timeoutMiddleware bounds the request context. Handlers are expected to
// honour ctx; when one gives up without writing a response the client gets
// a 504.
func timeoutMiddleware(timeout time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			ww, written := trackWritten(w)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !written() {
				log.Warn("HTTP request timeout", append(requestFields(r), zap.Duration("timeout", timeout))...)
				problems.Write(w, r, problems.GatewayTimeout(ErrRequestTimeout.Error()))
			}
		})
	}
}

func NewTimeoutMiddleware(cfg TimeoutConfig, log *zap.Logger, priority int) Middleware {
	if !*cfg.Enabled {
		return Middleware{Priority: priority}
	}
	log.Info("HTTP timeout middleware initialized", zap.Duration("request-timeout", cfg.RequestTimeout))
	return Middleware{Priority: priority, Handler: timeoutMiddleware(cfg.RequestTimeout, log)}
}
