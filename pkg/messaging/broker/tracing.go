package broker

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"

// InjectTrace writes the span context of ctx into headers and returns them.
// The emitter stores the result with the outbox record.
func InjectTrace(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// ExtractTrace returns ctx with the remote span context found in headers.
func ExtractTrace(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartProducerSpan starts a "<system>.produce" span whose parent is the
// trace stored in msg.Headers, and returns headers rewritten to carry the
// new span. Deadlines and cancellation of ctx are kept.
func StartProducerSpan(ctx context.Context, tp trace.TracerProvider, system string, msg Message) (context.Context, trace.Span, map[string]string) {
	ctx = ExtractTrace(ctx, msg.Headers)
	ctx, span := tp.Tracer(tracerName).Start(ctx, system+".produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", system),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.message.id", msg.Envelope.EventID.String()),
			attribute.String("messaging.message.key", msg.Key),
		),
	)

	headers := maps.Clone(msg.Headers)
	return ctx, span, InjectTrace(ctx, headers)
}
