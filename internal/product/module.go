package product

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"go.uber.org/fx"
)

// NewProductModule registers the OrderCreatedEvent handler with the inbox.
func NewProductModule() fx.Option {
	return fx.Module("product",
		fx.Provide(
			newMongoLedger,
			NewOrderCreatedHandler,
			inbox.AsRegistration(newOrderCreatedRegistration),
		),
	)
}
