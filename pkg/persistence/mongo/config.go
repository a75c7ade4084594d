package mongo

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ConnectionString string `mapstructure:"connection-string"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	ReplicaSet       string `mapstructure:"replica-set"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	Database         string `mapstructure:"database"`
	DirectConnection bool   `mapstructure:"direct-connection"`

	MaxPoolSize         uint64        `mapstructure:"max-pool-size"`
	MinPoolSize         uint64        `mapstructure:"min-pool-size"`
	MaxConnIdleTime     time.Duration `mapstructure:"max-conn-idle-time"`
	ConnectTimeout      time.Duration `mapstructure:"connect-timeout"`
	ServerSelectTimeout time.Duration `mapstructure:"server-select-timeout"`
	// ConnectRetries is how many times the startup ping is retried.
	ConnectRetries uint64 `mapstructure:"connect-retries"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	sub := v.Sub("mongo")
	if sub == nil {
		return cfg, errors.New("mongo config is missing")
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load mongo config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 100
	}
	if cfg.MinPoolSize == 0 {
		cfg.MinPoolSize = 10
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ServerSelectTimeout == 0 {
		cfg.ServerSelectTimeout = 30 * time.Second
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 5
	}
}

func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("invalid mongo configuration: database is required")
	}
	if c.ConnectionString == "" && (c.Host == "" || c.Port == 0) {
		return errors.New("invalid mongo configuration: connection-string or host and port are required")
	}
	if c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("invalid mongo configuration: min-pool-size %d exceeds max-pool-size %d", c.MinPoolSize, c.MaxPoolSize)
	}
	return nil
}

// URI builds the connection URI. extra query parameters are appended, which
// is how the migrator passes its x-* options.
func (c Config) URI(extra url.Values) string {
	var u *url.URL
	if c.ConnectionString != "" {
		parsed, err := url.Parse(c.ConnectionString)
		if err != nil {
			return c.ConnectionString
		}
		u = parsed
	} else {
		u = &url.URL{Scheme: "mongodb", Host: c.Host + ":" + strconv.Itoa(c.Port)}
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/" + c.Database
	}

	q := u.Query()
	if c.ReplicaSet != "" {
		q.Set("replicaSet", c.ReplicaSet)
	}
	if c.DirectConnection {
		q.Set("directConnection", "true")
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
