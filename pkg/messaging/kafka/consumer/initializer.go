package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 5 * time.Second

type subscriber interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
}

// initializer subscribes the consumer and waits until every topic has
// partitions in the cluster metadata.
type initializer struct {
	consumer         subscriber
	topics           []string
	log              *zap.Logger
	timeoutSeconds   int
	failOnTopicError bool
	backoff          func() backoff.BackOff
}

func newInitializer(consumer subscriber, topics []string, log *zap.Logger, timeoutSeconds int, failOnTopicError bool) *initializer {
	return &initializer{
		consumer:         consumer,
		topics:           topics,
		log:              log,
		timeoutSeconds:   timeoutSeconds,
		failOnTopicError: failOnTopicError,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (i *initializer) initialize(ctx context.Context) error {
	i.log.Info("subscribing to topics", zap.Strings("topics", i.topics))
	if err := i.consumer.SubscribeTopics(i.topics, rebalanceCallback(i.log)); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", i.topics, err)
	}

	if i.timeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(i.timeoutSeconds)*time.Second)
		defer cancel()
	}

	for _, topic := range i.topics {
		if err := i.waitForTopic(ctx, topic); err != nil {
			if i.failOnTopicError {
				return err
			}
			i.log.Warn("topic not ready, continuing anyway", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

func (i *initializer) waitForTopic(ctx context.Context, topic string) error {
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = i.verifyTopic(topic)
		if lastErr != nil {
			i.log.Debug("topic not ready, retrying", zap.String("topic", topic), zap.Error(lastErr))
		}
		return lastErr
	}, backoff.WithContext(i.backoff(), ctx))
	if err != nil && lastErr != nil && !errors.Is(err, lastErr) {
		return fmt.Errorf("%w: %w", err, lastErr)
	}
	return err
}

func (i *initializer) verifyTopic(topic string) error {
	metadata, err := i.consumer.GetMetadata(&topic, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to get metadata of topic %s: %w", topic, err)
	}
	topicMeta, ok := metadata.Topics[topic]
	if !ok {
		return fmt.Errorf("topic %s not found in metadata", topic)
	}
	if topicMeta.Error.Code() != kafka.ErrNoError {
		return fmt.Errorf("topic %s has error: %w", topic, topicMeta.Error)
	}
	if len(topicMeta.Partitions) == 0 {
		return fmt.Errorf("topic %s has no partitions", topic)
	}

	i.log.Info("topic is ready", zap.String("topic", topic), zap.Int("partitions", len(topicMeta.Partitions)))
	return nil
}
