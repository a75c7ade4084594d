package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	envAppEnv            = "APP_ENV"
	envAppServiceName    = "APP_SERVICE_NAME"
	envAppServiceVersion = "APP_SERVICE_VERSION"
	envConfigFile        = "CONFIG_FILE"
	envConfigDir         = "CONFIG_DIR"
	envConfigName        = "CONFIG_NAME"
)

const defaultConfigDir = "./configs"

// AppConfig is the service identity plus the resolved config file location.
type AppConfig struct {
	ConfigFile     string
	ServiceName    string
	ServiceVersion string
	// Environment is the deployment environment (e.g. "local", "staging", "pro").
	Environment string
}

type appConfigOptions struct {
	static *AppConfig
}

// AppConfigOption configures the app config module.
type AppConfigOption func(*appConfigOptions)

// WithAppConfig supplies a static AppConfig instead of reading the environment.
func WithAppConfig(cfg AppConfig) AppConfigOption {
	return func(o *appConfigOptions) {
		o.static = &cfg
	}
}

// NewAppConfigModule provides AppConfig.
//
// Required environment variables: APP_ENV, APP_SERVICE_NAME, APP_SERVICE_VERSION.
// The config file defaults to $CONFIG_DIR/$CONFIG_NAME.yaml, which falls back to
// ./configs/config.<APP_ENV>.yaml. CONFIG_FILE overrides both.
func NewAppConfigModule(opts ...AppConfigOption) fx.Option {
	o := &appConfigOptions{}
	for _, opt := range opts {
		opt(o)
	}

	provide := fx.Provide(newAppConfig)
	if o.static != nil {
		provide = fx.Supply(*o.static)
	}

	return fx.Module("appconfig",
		provide,
		fx.Invoke(func(log *zap.Logger, conf AppConfig) {
			log.Info("loaded application configuration",
				zap.String("service", conf.ServiceName),
				zap.String("version", conf.ServiceVersion),
				zap.String("environment", conf.Environment),
				zap.String("configFile", conf.ConfigFile),
			)
		}),
	)
}

func newAppConfig() (AppConfig, error) {
	env, err := requiredEnv(envAppEnv)
	if err != nil {
		return AppConfig{}, err
	}
	serviceName, err := requiredEnv(envAppServiceName)
	if err != nil {
		return AppConfig{}, err
	}
	serviceVersion, err := requiredEnv(envAppServiceVersion)
	if err != nil {
		return AppConfig{}, err
	}

	return AppConfig{
		ConfigFile:     resolveConfigFile(env),
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    env,
	}, nil
}

func requiredEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return value, nil
}

func resolveConfigFile(env string) string {
	if file := os.Getenv(envConfigFile); file != "" {
		return file
	}

	dir := os.Getenv(envConfigDir)
	if dir == "" {
		dir = defaultConfigDir
	}
	name := os.Getenv(envConfigName)
	if name == "" {
		name = "config." + env
	}
	return filepath.Join(dir, name+".yaml")
}
