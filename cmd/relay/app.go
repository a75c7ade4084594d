package main

import (
	"context"

	"github.com/Sokol111/ecommerce-outbox/pkg/core"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/outbox"
	"github.com/Sokol111/ecommerce-outbox/pkg/modules"
	"github.com/google/uuid"
	"go.uber.org/fx"
)

// relayApp is a started fx application exposing the outbox.
type relayApp struct {
	app   *fx.App
	store outbox.Store
	relay *outbox.Relay
}

var _ operations = (*relayApp)(nil)

func startApp(ctx context.Context, opts appOptions) (operations, error) {
	var coreOpts []core.Option
	if opts.configPath != "" {
		coreOpts = append(coreOpts, core.WithConfigPath(opts.configPath))
	}

	a := &relayApp{}
	options := []fx.Option{
		modules.NewCoreModule(coreOpts...),
		modules.NewObservabilityModule(),
		modules.NewPersistenceModule(),
		outbox.NewOutboxModule(),
		fx.Populate(&a.store),
	}
	if opts.publishing {
		options = append(options,
			messaging.NewMessagingModule(),
			outbox.NewRelayModule(outbox.WithoutWorker()),
			fx.Populate(&a.relay),
		)
	}

	a.app = fx.New(options...)
	if err := a.app.Err(); err != nil {
		return nil, err
	}
	if err := a.app.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *relayApp) Run(ctx context.Context) error {
	return a.relay.Run(ctx)
}

func (a *relayApp) Drain(ctx context.Context) (int, error) {
	return a.relay.Drain(ctx)
}

func (a *relayApp) Stats(ctx context.Context) (outbox.Stats, error) {
	return a.store.Stats(ctx)
}

func (a *relayApp) Replay(ctx context.Context, eventID uuid.UUID) error {
	return a.store.Replay(ctx, eventID)
}

func (a *relayApp) Close(ctx context.Context) error {
	return a.app.Stop(ctx)
}
