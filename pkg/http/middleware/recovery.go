package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/http/problems"
	"go.uber.org/zap"
)

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww, written := trackWritten(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Get(r.Context()).Error("panic recovered",
				append(requestFields(r),
					zap.Error(fmt.Errorf("%w: %v", ErrPanic, rec)),
					zap.ByteString("stack", debug.Stack()),
				)...,
			)
			if !written() {
				problems.Write(w, r, problems.Internal())
			}
		}()
		next.ServeHTTP(ww, r)
	})
}

func NewRecoveryMiddleware(priority int) Middleware {
	return Middleware{Priority: priority, Handler: recoveryMiddleware}
}
