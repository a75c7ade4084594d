package config

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DotEnvOption configures the dotenv module.
type DotEnvOption func(*string)

// WithDotEnvPath loads variables from path instead of ./.env.
func WithDotEnvPath(path string) DotEnvOption {
	return func(p *string) {
		*p = path
	}
}

// NewDotEnvModule loads a .env file into the process environment. A missing
// file is not an error. Loading happens when the module is built, before any
// provider reads the environment.
func NewDotEnvModule(opts ...DotEnvOption) fx.Option {
	path := ".env"
	for _, opt := range opts {
		opt(&path)
	}

	loaded := godotenv.Load(path) == nil

	return fx.Module("dotenv",
		fx.Invoke(func(log *zap.Logger) {
			if loaded {
				log.Info("loaded .env file", zap.String("path", path))
				return
			}
			log.Debug("no .env file loaded", zap.String("path", path))
		}),
	)
}
