package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

func validateConfig(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Brokers) == "" {
		errs = append(errs, errors.New("brokers is required"))
	}

	names := make(map[string]struct{}, len(cfg.ConsumersConfig.ConsumerConfig))
	for i := range cfg.ConsumersConfig.ConsumerConfig {
		c := &cfg.ConsumersConfig.ConsumerConfig[i]
		if _, dup := names[c.Name]; dup && c.Name != "" {
			errs = append(errs, fmt.Errorf("consumer %q is defined twice", c.Name))
		}
		names[c.Name] = struct{}{}
		if err := validateConsumer(c); err != nil {
			errs = append(errs, err)
		}
	}

	if err := validateProducer(&cfg.ProducerConfig); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateConsumer(c *ConsumerConfig) error {
	var errs []error
	label := c.Name
	if label == "" {
		label = "<unnamed>"
		errs = append(errs, errors.New("name is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("group-id is required (set it or default-group-id)"))
	}
	if !slices.Contains(validOffsetResets, c.AutoOffsetReset) {
		errs = append(errs, fmt.Errorf("auto-offset-reset must be one of %v, got %q", validOffsetResets, c.AutoOffsetReset))
	}
	if c.ProcessingTimeout < minProcessingTimeout || c.ProcessingTimeout > maxProcessingTimeout {
		errs = append(errs, fmt.Errorf("processing-timeout must be between %s and %s, got %s",
			minProcessingTimeout, maxProcessingTimeout, c.ProcessingTimeout))
	}
	if c.NackDelay < 0 || c.NackDelay > maxNackDelay {
		errs = append(errs, fmt.Errorf("nack-delay must be between 0 and %s, got %s", maxNackDelay, c.NackDelay))
	}
	if c.ChannelBufferSize < minChannelBufferSize || c.ChannelBufferSize > maxChannelBufferSize {
		errs = append(errs, fmt.Errorf("channel-buffer-size must be between %d and %d, got %d",
			minChannelBufferSize, maxChannelBufferSize, c.ChannelBufferSize))
	}
	if c.ReadinessTimeoutSeconds < 0 || c.ReadinessTimeoutSeconds > maxReadinessTimeout {
		errs = append(errs, fmt.Errorf("readiness-timeout-seconds must be between 0 and %d, got %d",
			maxReadinessTimeout, c.ReadinessTimeoutSeconds))
	}
	if c.EnableDLQ && slices.Contains(c.Topics, c.DLQTopic) {
		errs = append(errs, fmt.Errorf("dlq-topic %q must differ from the consumed topics", c.DLQTopic))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("consumer %s: %w", label, err)
	}
	return nil
}

func validateProducer(p *ProducerConfig) error {
	var errs []error
	if !slices.Contains(validAcks, p.Acks) {
		errs = append(errs, fmt.Errorf("acks must be one of %v, got %q", validAcks, p.Acks))
	}
	if p.ReadinessTimeoutSeconds < 0 || p.ReadinessTimeoutSeconds > maxReadinessTimeout {
		errs = append(errs, fmt.Errorf("readiness-timeout-seconds must be between 0 and %d, got %d",
			maxReadinessTimeout, p.ReadinessTimeoutSeconds))
	}
	if p.MessageTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("message-timeout-ms must not be negative, got %d", p.MessageTimeoutMs))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	return nil
}
