package modules

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/observability"
	"go.uber.org/fx"
)

// NewObservabilityModule provides the tracer and meter providers.
func NewObservabilityModule(opts ...observability.Option) fx.Option {
	return observability.NewObservabilityModule(opts...)
}
