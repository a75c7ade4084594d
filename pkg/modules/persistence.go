package modules

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"go.uber.org/fx"
)

// NewPersistenceModule provides Mongo, the transaction manager and the
// migrator.
func NewPersistenceModule(opts ...mongo.Option) fx.Option {
	return mongo.NewMongoModule(opts...)
}
