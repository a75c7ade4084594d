package modules

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/core"
	"go.uber.org/fx"
)

// NewCoreModule provides config, logger, readiness and the worker group.
func NewCoreModule(opts ...core.Option) fx.Option {
	return core.NewCoreModule(opts...)
}
