package middleware

import (
	"net/http"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"golang.org/x/time/rate"
)

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			problems.Write(w, r, problems.New(http.StatusTooManyRequests, ErrRateLimitExceeded.Error()))
		})
	}
}

func NewRateLimitMiddleware(cfg RateLimitConfig, priority int) Middleware {
	if !*cfg.Enabled {
		return Middleware{Priority: priority}
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	return Middleware{Priority: priority, Handler: rateLimitMiddleware(limiter)}
}
