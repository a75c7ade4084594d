// Package envelope is the wire format of published events.
//
// An encoded envelope is a JSON object whose keys always appear in the order
// eventId, eventType, aggregateType, aggregateId, occurredAt, schemaVersion,
// payload. The payload is re-encoded canonically (compact, object keys
// sorted, numbers kept verbatim), so equal envelopes encode to equal bytes.
package envelope

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// TimeLayout is RFC 3339 in UTC with fixed microsecond precision.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

var (
	ErrSerialization   = errors.New("serialization failure")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

var codec = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

type Envelope struct {
	EventID       uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   uuid.UUID
	OccurredAt    time.Time
	SchemaVersion int
	Payload       []byte
}

type wire struct {
	EventID       string              `json:"eventId"`
	EventType     string              `json:"eventType"`
	AggregateType string              `json:"aggregateType"`
	AggregateID   string              `json:"aggregateId"`
	OccurredAt    string              `json:"occurredAt"`
	SchemaVersion int                 `json:"schemaVersion"`
	Payload       jsoniter.RawMessage `json:"payload"`
}

// Normalize truncates t to the precision the wire format carries.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func Marshal(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	payload, err := canonical(e.Payload)
	if err != nil {
		return nil, err
	}
	data, err := codec.Marshal(wire{
		EventID:       e.EventID.String(),
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID.String(),
		OccurredAt:    Normalize(e.OccurredAt).Format(TimeLayout),
		SchemaVersion: e.SchemaVersion,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}

func Unmarshal(data []byte) (Envelope, error) {
	var w wire
	if err := codec.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	eventID, err := uuid.Parse(w.EventID)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: eventId: %w", ErrInvalidEnvelope, err)
	}
	aggregateID, err := uuid.Parse(w.AggregateID)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: aggregateId: %w", ErrInvalidEnvelope, err)
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: occurredAt: %w", ErrInvalidEnvelope, err)
	}

	e := Envelope{
		EventID:       eventID,
		EventType:     w.EventType,
		AggregateType: w.AggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    Normalize(occurredAt),
		SchemaVersion: w.SchemaVersion,
		Payload:       []byte(w.Payload),
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	if e.Payload, err = canonical(e.Payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return e, nil
}

func (e Envelope) validate() error {
	switch {
	case e.EventID == uuid.Nil:
		return fmt.Errorf("%w: eventId is required", ErrInvalidEnvelope)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("%w: aggregateId is required", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: eventType is required", ErrInvalidEnvelope)
	case e.AggregateType == "":
		return fmt.Errorf("%w: aggregateType is required", ErrInvalidEnvelope)
	case e.SchemaVersion < 1:
		return fmt.Errorf("%w: schemaVersion must be >= 1, got %d", ErrInvalidEnvelope, e.SchemaVersion)
	}
	return nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return DecodePayload(e.Payload, v)
}

// EncodePayload encodes v as a canonical JSON object.
func EncodePayload(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return canonical(data)
}

func DecodePayload(raw []byte, v any) error {
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}

func canonical(raw []byte) ([]byte, error) {
	var obj map[string]any
	if err := codec.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object: %w", ErrSerialization, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrSerialization)
	}
	data, err := codec.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}

// TypeName returns the name of v's type with pointers removed, so
// *OrderCreatedEvent yields "OrderCreatedEvent".
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
