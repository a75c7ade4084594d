package config

import "github.com/samber/lo"

func applyDefaults(cfg *Config) {
	applyConsumersDefaults(&cfg.ConsumersConfig)
	for i := range cfg.ConsumersConfig.ConsumerConfig {
		applyConsumerDefaults(&cfg.ConsumersConfig.ConsumerConfig[i], &cfg.ConsumersConfig)
	}
	applyProducerDefaults(&cfg.ProducerConfig)
}

func applyConsumersDefaults(c *ConsumersConfig) {
	if c.DefaultAutoOffsetReset == "" {
		c.DefaultAutoOffsetReset = defaultAutoOffsetReset
	}
	if c.DefaultProcessingTimeout == 0 {
		c.DefaultProcessingTimeout = defaultProcessingTimeout
	}
	if c.DefaultNackDelay == 0 {
		c.DefaultNackDelay = defaultNackDelay
	}
	if c.DefaultChannelBufferSize == 0 {
		c.DefaultChannelBufferSize = defaultChannelBufferSize
	}
}

// applyConsumerDefaults fills unset consumer fields from the shared defaults.
func applyConsumerDefaults(c *ConsumerConfig, shared *ConsumersConfig) {
	if c.GroupID == "" {
		c.GroupID = shared.DefaultGroupID
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = shared.DefaultAutoOffsetReset
	}
	if c.ProcessingTimeout == 0 {
		c.ProcessingTimeout = shared.DefaultProcessingTimeout
	}
	if c.NackDelay == 0 {
		c.NackDelay = shared.DefaultNackDelay
	}
	if c.ChannelBufferSize == 0 {
		c.ChannelBufferSize = shared.DefaultChannelBufferSize
	}
	if c.ReadinessTimeoutSeconds == 0 {
		c.ReadinessTimeoutSeconds = defaultConsumerReadinessTimeout
	}
	if c.EnableDLQ && c.DLQTopic == "" {
		c.DLQTopic = c.Name + dlqSuffix
	}
}

func applyProducerDefaults(p *ProducerConfig) {
	if p.ReadinessTimeoutSeconds == 0 {
		p.ReadinessTimeoutSeconds = defaultProducerReadinessTimeout
	}
	if p.FailOnBrokerError == nil {
		p.FailOnBrokerError = lo.ToPtr(true)
	}
	if p.Acks == "" {
		p.Acks = defaultAcks
	}
	if p.EnableIdempotence == nil {
		p.EnableIdempotence = lo.ToPtr(true)
	}
	if p.LingerMs == 0 {
		p.LingerMs = defaultLingerMs
	}
	if p.MessageTimeoutMs == 0 {
		p.MessageTimeoutMs = defaultMessageTimeoutMs
	}
}
