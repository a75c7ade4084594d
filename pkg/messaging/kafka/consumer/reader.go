package consumer

import (
	"context"
	"time"

	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const readTimeout = 5 * time.Second

type messageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
}

// reader polls the consumer and hands messages to the processor.
type reader struct {
	consumer     messageReader
	messagesChan chan<- *kafka.Message
	log          *zap.Logger
	throttler    *logger.LogThrottler
}

func newReader(consumer messageReader, messagesChan chan<- *kafka.Message, log *zap.Logger) *reader {
	return &reader{
		consumer:     consumer,
		messagesChan: messagesChan,
		log:          log,
		throttler:    logger.NewLogThrottler(log, 0),
	}
}

// Run reads until ctx is cancelled. It returns an error only when the
// consumer hit a fatal error.
func (r *reader) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		msg, err := r.consumer.ReadMessage(readTimeout)
		if err != nil {
			rerr := wrapReaderError(err)
			if rerr.isFatal() {
				r.log.Error("kafka consumer failed", zap.Error(rerr))
				return rerr
			}
			if !rerr.isTimeout() {
				r.throttler.Warn(rerr.errorKey, rerr.description, zap.Error(err))
			}
			sleep(ctx, rerr.pause())
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case r.messagesChan <- msg:
		}
	}
	return nil
}
