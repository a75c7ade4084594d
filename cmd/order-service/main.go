// Package main runs the order service: POST /api/v1/orders persists an order
// and stages OrderCreatedEvent in the same transaction, and the outbox relay
// publishes staged events to the broker.
package main

import (
	"github.com/Sokol111/ecommerce-outbox/internal/order"
	"github.com/Sokol111/ecommerce-outbox/pkg/modules"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		modules.NewCoreModule(),
		modules.NewObservabilityModule(),
		modules.NewPersistenceModule(),
		modules.NewHTTPModule(),
		modules.NewPublishingModule(),
		order.NewOrderModule(),
	).Run()
}
