package middleware

import (
	"errors"
	"net/http"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"github.com/felixge/httpsnoop"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var errServerError = errors.New("server error")

func newCircuitBreaker(cfg CircuitBreakerConfig, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "http",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// circuitBreakerMiddleware counts 5xx responses as failures and answers 503
// without calling the handler while the breaker is open.
func circuitBreakerMiddleware(cb *gobreaker.CircuitBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			_, err := cb.Execute(func() (any, error) {
				m := httpsnoop.CaptureMetrics(next, w, r)
				if m.Code >= http.StatusInternalServerError {
					return nil, errServerError
				}
				return nil, nil
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				problems.Write(w, r, problems.ServiceUnavailable(ErrCircuitOpen.Error()))
			}
		})
	}
}

func NewCircuitBreakerMiddleware(cfg CircuitBreakerConfig, log *zap.Logger, priority int) Middleware {
	if !*cfg.Enabled {
		return Middleware{Priority: priority}
	}
	log.Info("circuit breaker middleware initialized",
		zap.Uint32("failure-threshold", cfg.FailureThreshold),
		zap.Duration("timeout", cfg.Timeout),
	)
	return Middleware{Priority: priority, Handler: circuitBreakerMiddleware(newCircuitBreaker(cfg, log))}
}
