package server

import (
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/http/middleware"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Port int `mapstructure:"port"`

	Connection ConnectionConfig `mapstructure:"connection"`

	Middleware middleware.Config `mapstructure:",squash"`
}

// ConnectionConfig holds the hard http.Server timeouts. They close the
// connection without a response, unlike the timeout middleware.
type ConnectionConfig struct {
	ReadHeaderTimeout time.Duration `mapstructure:"read-header-timeout"`
	ReadTimeout       time.Duration `mapstructure:"read-timeout"`
	WriteTimeout      time.Duration `mapstructure:"write-timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout"`
	MaxHeaderBytes    int           `mapstructure:"max-header-bytes"`
}

const defaultPort = 8080

func newConfig(v *viper.Viper, logger *zap.Logger) (Config, error) {
	var cfg Config
	if sub := v.Sub("server"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to load server config: %w", err)
		}
	}
	cfg.setDefaults()

	logger.Info("loaded server config",
		zap.Int("port", cfg.Port),
		zap.Duration("request-timeout", cfg.Middleware.Timeout.RequestTimeout),
	)
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	c.Middleware.SetDefaults()
	c.Connection.setDefaults(c.Middleware.Timeout)
}

func (c *ConnectionConfig) setDefaults(timeout middleware.TimeoutConfig) {
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		// must outlive the request timeout so the 504 can be written
		if timeout.Enabled != nil && *timeout.Enabled && timeout.RequestTimeout > 0 {
			c.WriteTimeout = timeout.RequestTimeout + 10*time.Second
		} else {
			c.WriteTimeout = 40 * time.Second
		}
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20
	}
}
