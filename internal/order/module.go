package order

import (
	_ "embed"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/swaggerui"
	"go.uber.org/fx"
)

//go:embed openapi.yaml
var openAPISpec []byte

// NewOrderModule provides the order Service and registers
// POST /api/v1/orders and its API docs on the server mux.
func NewOrderModule() fx.Option {
	return fx.Module("order",
		fx.Provide(
			newMongoRepository,
			NewService,
			newHandler,
		),
		fx.Invoke(registerRoutes),
		swaggerui.NewSwaggerModule(swaggerui.Config{OpenAPIContent: openAPISpec}),
	)
}
