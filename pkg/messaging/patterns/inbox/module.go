package inbox

import (
	"context"
	"embed"
	"fmt"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed migrations/*.json
var migrationsFS embed.FS

const migrationsCollection = "inbox_migrations"

// AsRegistration annotates a constructor returning Registration so the
// inbox module picks it up:
//
//	fx.Provide(inbox.AsRegistration(newOrderCreatedRegistration))
func AsRegistration(constructor any) any {
	return fx.Annotate(constructor, fx.ResultTags(`group:"inbox_registrations"`))
}

// NewInboxModule provides the Registry, a Mongo DedupStore and the
// Dispatcher. Handlers come from the "inbox_registrations" group.
func NewInboxModule() fx.Option {
	return fx.Module("inbox",
		fx.Provide(
			NewMongoDedupStore,
			NewDispatcher,
			newRegistry,
		),
		fx.Invoke(runMigrations),
	)
}

type registryParams struct {
	fx.In

	Registrations []Registration `group:"inbox_registrations"`
}

func newRegistry(p registryParams, log *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, reg := range p.Registrations {
		if err := r.Register(reg.EventType, reg.Handler); err != nil {
			return nil, err
		}
		log.Info("inbox handler registered", zap.String("eventType", reg.EventType))
	}
	return r, nil
}

func runMigrations(lc fx.Lifecycle, _ mongo.Mongo, migrator mongo.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := migrator.UpFromFS(migrationsCollection, migrationsFS, "migrations"); err != nil {
				return fmt.Errorf("inbox: %w", err)
			}
			return nil
		},
	})
}
