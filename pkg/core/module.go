package core

import (
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/worker"
	"go.uber.org/fx"
)

type coreOptions struct {
	appConfig          *config.AppConfig
	loggerConfig       *logger.Config
	configPath         string
	disableDotEnv      bool
	disableViperConfig bool
}

type Option func(*coreOptions)

// WithAppConfig uses cfg instead of reading APP_* variables.
func WithAppConfig(cfg config.AppConfig) Option {
	return func(o *coreOptions) { o.appConfig = &cfg }
}

// WithLoggerConfig uses cfg instead of the "logger" config key.
func WithLoggerConfig(cfg logger.Config) Option {
	return func(o *coreOptions) { o.loggerConfig = &cfg }
}

// WithConfigPath reads configuration from path instead of CONFIG_FILE.
func WithConfigPath(path string) Option {
	return func(o *coreOptions) { o.configPath = path }
}

func WithoutEnvFile() Option {
	return func(o *coreOptions) { o.disableDotEnv = true }
}

func WithoutConfigFile() Option {
	return func(o *coreOptions) { o.disableViperConfig = true }
}

// NewCoreModule wires dotenv, viper, app config, logger, readiness and the
// worker group, and raises the fx start and stop timeouts to five minutes.
//
//	core.NewCoreModule(
//	    core.WithAppConfig(config.AppConfig{ServiceName: "relay", Environment: "test"}),
//	    core.WithoutEnvFile(),
//	    core.WithoutConfigFile(),
//	)
func NewCoreModule(opts ...Option) fx.Option {
	o := &coreOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Options(
		fx.StartTimeout(5*time.Minute),
		fx.StopTimeout(5*time.Minute),

		dotEnvModule(o),
		viperModule(o),
		appConfigModule(o),
		loggerModule(o),
		health.NewReadinessModule(),
		worker.NewModule(),
	)
}

func dotEnvModule(o *coreOptions) fx.Option {
	if o.disableDotEnv {
		return fx.Options()
	}
	return config.NewDotEnvModule()
}

func viperModule(o *coreOptions) fx.Option {
	switch {
	case o.disableViperConfig:
		return config.NewViperModule(config.WithoutConfigFile())
	case o.configPath != "":
		return config.NewViperModule(config.WithConfigPath(o.configPath))
	default:
		return config.NewViperModule()
	}
}

func appConfigModule(o *coreOptions) fx.Option {
	if o.appConfig != nil {
		return config.NewAppConfigModule(config.WithAppConfig(*o.appConfig))
	}
	return config.NewAppConfigModule()
}

func loggerModule(o *coreOptions) fx.Option {
	if o.loggerConfig != nil {
		return logger.NewZapLoggingModule(logger.WithLoggerConfig(*o.loggerConfig))
	}
	return logger.NewZapLoggingModule()
}
