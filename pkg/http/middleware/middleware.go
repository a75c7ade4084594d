// Package middleware holds the net/http middleware of the service HTTP
// server. Each one is provided into the "http_mw" group with a priority;
// lower priorities wrap the outer layers.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Middleware is a handler decorator with a priority. A nil Handler is
// skipped, which is how disabled middleware is expressed.
type Middleware struct {
	Priority int
	Handler  func(http.Handler) http.Handler
}

// Chain wraps h so that the lowest priority runs first.
func Chain(h http.Handler, mws []Middleware) http.Handler {
	sorted := slices.Clone(mws)
	slices.SortStableFunc(sorted, func(a, b Middleware) int { return a.Priority - b.Priority })
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Handler != nil {
			h = sorted[i].Handler(h)
		}
	}
	return h
}

func isHealthPath(path string) bool {
	return strings.HasPrefix(path, "/health/")
}

func requestFields(r *http.Request) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("query", r.URL.RawQuery),
		zap.String("remote_addr", r.RemoteAddr),
	}
}

