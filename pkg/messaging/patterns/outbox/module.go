package outbox

import (
	"context"
	"embed"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/worker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed migrations/*.json
var migrationsFS embed.FS

const migrationsCollection = "outbox_migrations"

type Option func(*Config)

// WithOutboxConfig bypasses the "outbox" viper key.
func WithOutboxConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// NewOutboxModule provides Config, the Mongo-backed Store and the Emitter,
// and applies the outbox index migrations on start.
func NewOutboxModule(opts ...Option) fx.Option {
	provideConfig := fx.Provide(newConfig)
	if len(opts) > 0 {
		cfg := DefaultConfig()
		for _, opt := range opts {
			opt(&cfg)
		}
		provideConfig = fx.Supply(cfg)
	}

	return fx.Module("outbox",
		provideConfig,
		fx.Provide(
			fx.Annotate(
				func(m mongo.Mongo, tx persistence.TxManager, cfg Config) *MongoStore {
					return NewMongoStore(m, tx, cfg)
				},
				fx.As(new(Store)),
			),
			NewEmitter,
		),
		fx.Invoke(runMigrations),
	)
}

type relayModuleOptions struct {
	noWorker bool
}

type RelayModuleOption func(*relayModuleOptions)

// WithoutWorker provides *Relay without running it, for one-shot commands.
func WithoutWorker() RelayModuleOption {
	return func(o *relayModuleOptions) { o.noWorker = true }
}

// NewRelayModule provides *Relay and, unless WithoutWorker is given, runs it
// as a worker once the application is ready.
func NewRelayModule(opts ...RelayModuleOption) fx.Option {
	o := &relayModuleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	options := []fx.Option{fx.Provide(provideRelay)}
	if !o.noWorker {
		options = append(options,
			fx.Provide(worker.Register[*Relay]("outbox-relay", worker.WithReady(), worker.WithShutdown())),
		)
	}
	return fx.Module("outbox-relay", options...)
}

type relayParams struct {
	fx.In

	Store         Store
	Publisher     broker.Publisher
	Config        Config
	Log           *zap.Logger
	MeterProvider metric.MeterProvider `optional:"true"`
}

func provideRelay(p relayParams) (*Relay, error) {
	return NewRelay(p.Store, p.Publisher, p.Config, p.Log, WithMeterProvider(p.MeterProvider))
}

// runMigrations depends on Mongo so it starts after the client connected.
func runMigrations(lc fx.Lifecycle, _ mongo.Mongo, migrator mongo.Migrator) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return migrator.UpFromFS(migrationsCollection, migrationsFS, "migrations")
		},
	})
}
