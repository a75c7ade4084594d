package modules

import (
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/consumer"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/inbox"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/patterns/outbox"
	"go.uber.org/fx"
)

// NewPublishingModule provides the outbox Emitter and Store, the selected
// broker binding and the relay worker.
func NewPublishingModule(opts ...messaging.MessagingOption) fx.Option {
	return fx.Options(
		messaging.NewMessagingModule(opts...),
		outbox.NewOutboxModule(),
		outbox.NewRelayModule(),
	)
}

// NewConsumingModule feeds the named Kafka consumer into the inbox
// dispatcher. The Kafka producer is wired for the consumer's DLQ.
func NewConsumingModule(consumerName string, opts ...messaging.MessagingOption) fx.Option {
	return fx.Options(
		messaging.NewKafkaProducerModule(opts...),
		inbox.NewInboxModule(),
		consumer.NewConsumerModule(consumerName),
	)
}
