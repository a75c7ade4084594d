package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const testTopic = "orders.order.ordercreatedevent"

func newTestMessage(partition int32, offset kafka.Offset, value string) *kafka.Message {
	topic := testTopic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: partition, Offset: offset},
		Key:            []byte("agg-1"),
		Value:          []byte(value),
		Headers:        []kafka.Header{{Key: "event-id", Value: []byte("e-1")}},
	}
}

type mockOffsetControl struct {
	mu      sync.Mutex
	stored  []kafka.Offset
	seeks   []kafka.TopicPartition
	seekErr error
}

func (m *mockOffsetControl) StoreMessage(msg *kafka.Message) ([]kafka.TopicPartition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, msg.TopicPartition.Offset)
	return nil, nil
}

func (m *mockOffsetControl) Seek(tp kafka.TopicPartition, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return m.seekErr
	}
	m.seeks = append(m.seeks, tp)
	return nil
}

func (m *mockOffsetControl) storedOffsets() []kafka.Offset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Offset(nil), m.stored...)
}

func (m *mockOffsetControl) seekCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seeks)
}

type mockDLQ struct {
	mu   sync.Mutex
	sent []*kafka.Message
	err  error
}

func (m *mockDLQ) sendToDLQ(_ context.Context, msg *kafka.Message, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockDLQ) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type dispatchResult struct {
	outcome inbox.Outcome
	err     error
}

// mockDispatcher answers from results by message value and records calls.
type mockDispatcher struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]dispatchResult
	panicOn string
}

func (m *mockDispatcher) DispatchMessage(_ context.Context, value []byte) (inbox.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := string(value)
	m.calls = append(m.calls, v)
	if v == m.panicOn && v != "" {
		panic("handler exploded")
	}
	queue := m.results[v]
	if len(queue) == 0 {
		return inbox.Processed, nil
	}
	r := queue[0]
	m.results[v] = queue[1:]
	return r.outcome, r.err
}

func (m *mockDispatcher) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func noSleep(context.Context, time.Duration) {}
