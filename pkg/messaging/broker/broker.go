// Package broker is the publish side of the messaging bus. Bindings live in
// the kafka and rabbitmq packages; brokertest has an in-memory fake.
package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
)

const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderSchemaVersion = "schema-version"
)

// Message is one envelope addressed to a topic. Key is the aggregate id;
// bindings must route equal keys to the same partition or queue.
type Message struct {
	Topic    string
	Key      string
	Value    []byte
	Headers  map[string]string
	Envelope envelope.Envelope
}

// Publisher delivers a message and returns once the broker acknowledged it.
// Errors are transient unless wrapped with Permanent.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Topic builds "<domain>.<aggregate type>.<event type>" in lower case.
func Topic(domain, aggregateType, eventType string) string {
	return strings.ToLower(domain + "." + aggregateType + "." + eventType)
}

// NewMessage encodes env and addresses it within domain. headers are copied
// and extended with the event identity headers.
func NewMessage(domain string, env envelope.Envelope, headers map[string]string) (Message, error) {
	value, err := envelope.Marshal(env)
	if err != nil {
		return Message{}, err
	}

	h := maps.Clone(headers)
	if h == nil {
		h = make(map[string]string, 3)
	}
	h[HeaderEventID] = env.EventID.String()
	h[HeaderEventType] = env.EventType
	h[HeaderSchemaVersion] = strconv.Itoa(env.SchemaVersion)

	return Message{
		Topic:    Topic(domain, env.AggregateType, env.EventType),
		Key:      env.AggregateID.String(),
		Value:    value,
		Headers:  h,
		Envelope: env,
	}, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying: the broker rejected the message
// itself (size, schema, authorization).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrCircuitOpen is returned without contacting the broker while the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("broker circuit open")

// ErrNotAcknowledged is returned when the broker refused or lost a message
// it had accepted for delivery.
var ErrNotAcknowledged = errors.New("broker did not acknowledge message")

// NackError builds a transient ErrNotAcknowledged with context.
func NackError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotAcknowledged}, args...)...)
}
