package config

import "time"

type Config struct {
	Brokers         string          `mapstructure:"brokers"`
	ConsumersConfig ConsumersConfig `mapstructure:"consumers-config"`
	ProducerConfig  ProducerConfig  `mapstructure:"producer-config"`
}

// ConsumersConfig holds defaults shared by every consumer plus the consumer
// list itself.
type ConsumersConfig struct {
	DefaultGroupID           string           `mapstructure:"default-group-id"`
	DefaultAutoOffsetReset   string           `mapstructure:"default-auto-offset-reset"`
	DefaultProcessingTimeout time.Duration    `mapstructure:"default-processing-timeout"`
	DefaultNackDelay         time.Duration    `mapstructure:"default-nack-delay"`
	DefaultChannelBufferSize int              `mapstructure:"default-channel-buffer-size"`
	ConsumerConfig           []ConsumerConfig `mapstructure:"consumers"`
}

type ConsumerConfig struct {
	Name            string   `mapstructure:"name"`
	Topics          []string `mapstructure:"topics"`
	GroupID         string   `mapstructure:"group-id"`
	AutoOffsetReset string   `mapstructure:"auto-offset-reset"`
	EnableDLQ       bool     `mapstructure:"enable-dlq"`
	DLQTopic        string   `mapstructure:"dlq-topic"`
	// ReadinessTimeoutSeconds bounds the wait for topic metadata, 0 waits forever.
	ReadinessTimeoutSeconds int           `mapstructure:"readiness-timeout-seconds"`
	FailOnTopicError        bool          `mapstructure:"fail-on-topic-error"`
	ProcessingTimeout       time.Duration `mapstructure:"processing-timeout"`
	// NackDelay is how long the consumer pauses before redelivering a nacked message.
	NackDelay         time.Duration `mapstructure:"nack-delay"`
	ChannelBufferSize int           `mapstructure:"channel-buffer-size"`
}

type ProducerConfig struct {
	ReadinessTimeoutSeconds int   `mapstructure:"readiness-timeout-seconds"`
	FailOnBrokerError       *bool `mapstructure:"fail-on-broker-error"`
	// Acks is passed to librdkafka as "acks"; the outbox needs "all".
	Acks              string `mapstructure:"acks"`
	EnableIdempotence *bool  `mapstructure:"enable-idempotence"`
	LingerMs          int    `mapstructure:"linger-ms"`
	MessageTimeoutMs  int    `mapstructure:"message-timeout-ms"`
}
