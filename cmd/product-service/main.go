// Package main runs the product service: it consumes OrderCreatedEvent and
// records each order against its product, once per event.
package main

import (
	"github.com/Sokol111/ecommerce-outbox/internal/product"
	"github.com/Sokol111/ecommerce-outbox/pkg/modules"
	"go.uber.org/fx"
)

const ordersConsumer = "orders"

func main() {
	fx.New(
		modules.NewCoreModule(),
		modules.NewObservabilityModule(),
		modules.NewPersistenceModule(),
		modules.NewHTTPModule(),
		modules.NewConsumingModule(ordersConsumer),
		product.NewProductModule(),
	).Run()
}
