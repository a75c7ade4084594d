package server

import (
	"context"
	"net/http"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/http/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type options struct {
	config *Config
}

type Option func(*options)

// WithServerConfig uses cfg instead of the "server" config key.
func WithServerConfig(cfg Config) Option {
	return func(o *options) { o.config = &cfg }
}

// NewHTTPServerModule provides the *http.ServeMux routes register on, and
// serves it behind the "http_mw" middleware group.
func NewHTTPServerModule(opts ...Option) fx.Option {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	provideConfig := fx.Provide(newConfig)
	if o.config != nil {
		provideConfig = fx.Provide(func() Config {
			cfg := *o.config
			cfg.setDefaults()
			return cfg
		})
	}

	return fx.Module("http-server",
		provideConfig,
		fx.Provide(
			func(c Config) middleware.Config { return c.Middleware },
			http.NewServeMux,
		),
		fx.Invoke(startHTTPServer),
	)
}

type serverParams struct {
	fx.In

	Lc          fx.Lifecycle
	Log         *zap.Logger
	Conf        Config
	Mux         *http.ServeMux
	Middlewares []middleware.Middleware `group:"http_mw"`
	Readiness   health.ComponentManager
	Shutdowner  fx.Shutdowner
}

func startHTTPServer(p serverParams) {
	var srv Server
	markReady := p.Readiness.AddComponent("http-server")
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// routes are registered by now
			srv = newServer(p.Log, p.Conf, middleware.Chain(p.Mux, p.Middlewares))

			go func() {
				if err := srv.ServeWithReadyCallback(markReady); err != nil {
					p.Log.Error("HTTP server failed, shutting down application", zap.Error(err))
					_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if srv != nil {
				return srv.Shutdown(ctx)
			}
			return nil
		},
	})
}
