package config

import "time"

const (
	DefaultMetricsInterval = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultSampleRatio samples every root span.
	DefaultSampleRatio = 1.0

	DefaultRuntimeStatsInterval = time.Second

	// Component names registered with the readiness manager.
	TracingComponentName = "tracing"
	MetricsComponentName = "metrics"
)

// Config is the "observability" config key.
type Config struct {
	OtelCollectorEndpoint string        `mapstructure:"otel-collector-endpoint"`
	Tracing               TracingConfig `mapstructure:"tracing"`
	Metrics               MetricsConfig `mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample-ratio"`
}

type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}
