package logger

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewConfig(t *testing.T) {
	t.Run("defaults when logger key is absent", func(t *testing.T) {
		// Given: empty viper
		v := viper.New()

		// When
		cfg, err := newConfig(v)

		// Then
		require.NoError(t, err)
		assert.Equal(t, zapcore.InfoLevel, cfg.Level)
		assert.Equal(t, zapcore.ErrorLevel, cfg.StacktraceLevel)
		assert.False(t, cfg.Development)
	})

	t.Run("parses levels and paths", func(t *testing.T) {
		// Given
		v := viper.New()
		v.Set("logger.level", "debug")
		v.Set("logger.development", true)
		v.Set("logger.stacktrace-level", "warn")
		v.Set("logger.output-paths", []string{"stdout"})

		// When
		cfg, err := newConfig(v)

		// Then
		require.NoError(t, err)
		assert.Equal(t, zapcore.DebugLevel, cfg.Level)
		assert.Equal(t, zapcore.WarnLevel, cfg.StacktraceLevel)
		assert.True(t, cfg.Development)
		assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	})

	tests := []struct {
		name   string
		key    string
		value  any
		errMsg string
	}{
		{name: "invalid level", key: "logger.level", value: "loud", errMsg: "invalid log level 'loud'"},
		{name: "invalid stacktrace level", key: "logger.stacktrace-level", value: "nope", errMsg: "invalid stacktrace level"},
		{name: "blank output path", key: "logger.output-paths", value: []string{"stdout", " "}, errMsg: "output-paths[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			v := viper.New()
			v.Set(tt.key, tt.value)

			// When
			_, err := newConfig(v)

			// Then
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewLogger_ReplacesDefault(t *testing.T) {
	original := defaultLogger
	t.Cleanup(func() { defaultLogger = original })

	// Given
	cfg := defaultConfig()
	cfg.OutputPaths = []string{"stderr"}

	// When
	log, err := newLogger(cfg)

	// Then
	require.NoError(t, err)
	assert.Same(t, log, Get(context.Background()))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestContext(t *testing.T) {
	original := defaultLogger
	defaultLogger = zap.NewNop()
	t.Cleanup(func() { defaultLogger = original })

	t.Run("falls back to default", func(t *testing.T) {
		assert.Same(t, defaultLogger, Get(context.Background()))
	})

	t.Run("returns stored logger", func(t *testing.T) {
		// Given
		scoped := zap.NewExample()

		// When
		ctx := With(context.Background(), scoped)

		// Then
		assert.Same(t, scoped, Get(ctx))
	})

	t.Run("inner logger wins", func(t *testing.T) {
		outer, inner := zap.NewExample(), zap.NewExample()
		ctx := With(With(context.Background(), outer), inner)
		assert.Same(t, inner, Get(ctx))
	})
}

func TestLogThrottler(t *testing.T) {
	t.Run("first entry per key at full level then debug", func(t *testing.T) {
		// Given
		core, logs := observer.New(zapcore.DebugLevel)
		throttler := NewLogThrottler(zap.New(core), time.Hour)

		// When
		throttler.Error("claim", "store unavailable")
		throttler.Error("claim", "store unavailable")
		throttler.Warn("publish", "broker down")

		// Then
		entries := logs.AllUntimed()
		require.Len(t, entries, 3)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	})

	t.Run("reset restores full level", func(t *testing.T) {
		// Given
		core, logs := observer.New(zapcore.DebugLevel)
		throttler := NewLogThrottler(zap.New(core), time.Hour)
		throttler.Warn("k", "m")

		// When
		throttler.Reset("k")
		throttler.Warn("k", "m")

		// Then
		assert.Equal(t, 2, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	})

	t.Run("zero interval defaults", func(t *testing.T) {
		throttler := NewLogThrottler(zap.NewNop(), 0)
		assert.Equal(t, defaultThrottleInterval, throttler.interval)
	})
}
