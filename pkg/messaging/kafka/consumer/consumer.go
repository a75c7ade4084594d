package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// provideKafkaConsumer creates the consumer, subscribes it on start and
// commits stored offsets before closing it on stop. Offsets are stored
// explicitly on ack and committed by the auto commit timer.
func provideKafkaConsumer(lc fx.Lifecycle, conf config.Config, consumerConf config.ConsumerConfig, log *zap.Logger,
	componentMgr health.ComponentManager) (*kafka.Consumer, error) {
	kafkaConsumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":        conf.Brokers,
		"group.id":                 consumerConf.GroupID,
		"enable.auto.commit":       true,
		"enable.auto.offset.store": false,
		"auto.commit.interval.ms":  3000,
		"auto.offset.reset":        consumerConf.AutoOffsetReset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer %s: %w", consumerConf.Name, err)
	}

	init := newInitializer(kafkaConsumer, consumerConf.Topics, log, consumerConf.ReadinessTimeoutSeconds, consumerConf.FailOnTopicError)
	markReady := componentMgr.AddComponent("kafka-consumer-" + consumerConf.Name)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := init.initialize(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			if _, commitErr := kafkaConsumer.Commit(); commitErr != nil {
				var kafkaErr kafka.Error
				if !errors.As(commitErr, &kafkaErr) || kafkaErr.Code() != kafka.ErrNoOffset {
					log.Warn("failed to commit offsets on shutdown", zap.Error(commitErr))
				}
			}
			log.Info("closing kafka consumer")
			return kafkaConsumer.Close()
		},
	})

	return kafkaConsumer, nil
}

func rebalanceCallback(log *zap.Logger) kafka.RebalanceCb {
	return func(_ *kafka.Consumer, event kafka.Event) error {
		switch ev := event.(type) {
		case kafka.AssignedPartitions:
			logPartitionEvent(log, "partitions assigned", ev.Partitions)
		case kafka.RevokedPartitions:
			logPartitionEvent(log, "partitions revoked", ev.Partitions)
		}
		return nil
	}
}

func logPartitionEvent(log *zap.Logger, event string, partitions []kafka.TopicPartition) {
	if len(partitions) == 0 {
		log.Warn(event + ": no partitions")
		return
	}
	log.Info(event,
		zap.Int("partition_count", len(partitions)),
		zap.Int32s("partitions", lo.Map(partitions, func(p kafka.TopicPartition, _ int) int32 { return p.Partition })),
	)
}
