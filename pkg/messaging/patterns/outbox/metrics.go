package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/outbox"

const (
	failureTransient = "transient"
	failurePermanent = "permanent"
)

type relayMetrics struct {
	claimed   metric.Int64Counter
	published metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func newRelayMetrics(mp metric.MeterProvider) (*relayMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	claimed, err := meter.Int64Counter("outbox.claimed",
		metric.WithDescription("Outbox records leased by the relay"))
	if err != nil {
		return nil, err
	}
	published, err := meter.Int64Counter("outbox.published",
		metric.WithDescription("Outbox records acknowledged by the broker"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("outbox.failed",
		metric.WithDescription("Failed publish attempts by kind"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("outbox.publish.duration",
		metric.WithDescription("Time from publish call to broker acknowledgement"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &relayMetrics{claimed: claimed, published: published, failed: failed, duration: duration}, nil
}

func (m *relayMetrics) recordClaimed(ctx context.Context, n int) {
	m.claimed.Add(ctx, int64(n))
}

func (m *relayMetrics) recordPublished(ctx context.Context, took time.Duration) {
	m.published.Add(ctx, 1)
	m.duration.Record(ctx, took.Seconds())
}

func (m *relayMetrics) recordFailed(ctx context.Context, kind string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
