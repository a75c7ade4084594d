package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const defaultThrottleInterval = 5 * time.Minute

// LogThrottler emits at most one entry per key per interval at the requested
// level and demotes the rest to DEBUG. Use it for errors a loop hits on every
// iteration, like a store outage.
type LogThrottler struct {
	log      *zap.Logger
	interval time.Duration
	limiters sync.Map // key -> *rate.Limiter
}

// NewLogThrottler returns a throttler; zero interval means five minutes.
func NewLogThrottler(log *zap.Logger, interval time.Duration) *LogThrottler {
	if interval <= 0 {
		interval = defaultThrottleInterval
	}
	return &LogThrottler{log: log, interval: interval}
}

func (t *LogThrottler) Warn(key, msg string, fields ...zap.Field) {
	t.write(key, zapcore.WarnLevel, msg, fields)
}

func (t *LogThrottler) Error(key, msg string, fields ...zap.Field) {
	t.write(key, zapcore.ErrorLevel, msg, fields)
}

// Reset forgets key so the next entry for it is logged at full level again.
func (t *LogThrottler) Reset(key string) {
	t.limiters.Delete(key)
}

func (t *LogThrottler) write(key string, level zapcore.Level, msg string, fields []zap.Field) {
	if !t.limiter(key).Allow() {
		level = zapcore.DebugLevel
	}
	if ce := t.log.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (t *LogThrottler) limiter(key string) *rate.Limiter {
	if l, ok := t.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := t.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(t.interval), 1))
	return l.(*rate.Limiter)
}
