package container

import (
	"context"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
	"go.uber.org/fx"
)

const appStartTimeout = time.Minute

// StartMongoApp starts an fx application with the core and mongo modules
// wired to cfg plus opts, and stops it when t ends. Use fx.Populate in opts
// to pull out what the test needs.
func StartMongoApp(t testing.TB, cfg mongo.Config, opts ...fx.Option) {
	t.Helper()

	app := fx.New(append([]fx.Option{
		core.NewCoreModule(
			core.WithAppConfig(config.AppConfig{ServiceName: "integration", ServiceVersion: "test", Environment: "test"}),
			core.WithoutEnvFile(),
			core.WithoutConfigFile(),
		),
		mongo.NewMongoModule(mongo.WithMongoConfig(cfg)),
	}, opts...)...)

	ctx, cancel := context.WithTimeout(context.Background(), appStartTimeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start app: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), appStartTimeout)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	})
}
