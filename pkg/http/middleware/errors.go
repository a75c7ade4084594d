package middleware

import (
	"errors"
	"net/http"

	"github.com/felixge/httpsnoop"
)

var (
	ErrRequestTimeout    = errors.New("request timeout")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrBulkheadFull      = errors.New("too many concurrent requests")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrPanic             = errors.New("handler panicked")
)

// trackWritten reports whether the handler started the response.
func trackWritten(w http.ResponseWriter) (http.ResponseWriter, func() bool) {
	written := false
	ww := httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				written = true
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				written = true
				return next(b)
			}
		},
	})
	return ww, func() bool { return written }
}
