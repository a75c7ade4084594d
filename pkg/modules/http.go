package modules

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/http/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/http/middleware"
	"github.com/Sokol111/ecommerce-outbox/pkg/http/server"
	"go.uber.org/fx"
)

// NewHTTPModule provides the HTTP server with its middleware chain and the
// health routes. Services register their own routes on *http.ServeMux.
func NewHTTPModule(opts ...server.Option) fx.Option {
	return fx.Options(
		server.NewHTTPServerModule(opts...),
		health.NewHealthRoutesModule(),
		middleware.NewMiddlewareModule(),
	)
}
