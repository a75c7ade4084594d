package messaging

import (
	"fmt"
	"os"
	"strings"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/broker"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/kafka/producer"
	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/rabbitmq"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	KindKafka    = "kafka"
	KindRabbitMQ = "rabbitmq"

	envBrokerKind = "BROKER_KIND"
)

// BrokerConfig is the "broker" config key. Kind only cross-checks the
// binding; WithBrokerKind or BROKER_KIND selects it.
type BrokerConfig struct {
	Kind    string               `mapstructure:"kind"`
	Breaker broker.BreakerConfig `mapstructure:"breaker"`
}

type messagingOptions struct {
	kind           string
	kafkaConfig    *config.Config
	rabbitMQConfig *rabbitmq.Config
	brokerConfig   *BrokerConfig
}

// MessagingOption configures NewMessagingModule.
type MessagingOption func(*messagingOptions)

// WithBrokerKind selects the binding. Without it, BROKER_KIND decides and
// kafka is the default. The config file cannot select it: the binding is
// fixed before viper is loaded.
func WithBrokerKind(kind string) MessagingOption {
	return func(o *messagingOptions) { o.kind = kind }
}

// WithKafkaConfig provides a static Kafka Config instead of the "kafka" key.
func WithKafkaConfig(cfg config.Config) MessagingOption {
	return func(o *messagingOptions) { o.kafkaConfig = &cfg }
}

// WithRabbitMQConfig provides a static RabbitMQ Config instead of the
// "rabbitmq" key.
func WithRabbitMQConfig(cfg rabbitmq.Config) MessagingOption {
	return func(o *messagingOptions) { o.rabbitMQConfig = &cfg }
}

// WithBrokerConfig provides a static BrokerConfig instead of the "broker" key.
func WithBrokerConfig(cfg BrokerConfig) MessagingOption {
	return func(o *messagingOptions) { o.brokerConfig = &cfg }
}

// NewMessagingModule provides broker.Publisher: the selected binding behind
// a circuit breaker.
//
//	messaging.NewMessagingModule()
//	messaging.NewMessagingModule(messaging.WithBrokerKind(messaging.KindRabbitMQ))
func NewMessagingModule(opts ...MessagingOption) fx.Option {
	o := &messagingOptions{}
	for _, opt := range opts {
		opt(o)
	}
	kind, err := resolveKind(o.kind)
	if err != nil {
		return fx.Error(err)
	}

	return fx.Module("messaging",
		fx.Provide(func(v *viper.Viper) (BrokerConfig, error) {
			if o.brokerConfig != nil {
				return checkKind(*o.brokerConfig, kind)
			}
			return newBrokerConfig(v, kind)
		}),
		bindingModule(kind, o),
	)
}

// NewKafkaProducerModule provides the Kafka config and raw producer without
// the broker.Publisher, for consumers that only write to a DLQ.
func NewKafkaProducerModule(opts ...MessagingOption) fx.Option {
	o := &messagingOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return fx.Options(kafkaConfigModule(o), producer.NewProducerModule())
}

func bindingModule(kind string, o *messagingOptions) fx.Option {
	switch kind {
	case KindRabbitMQ:
		var rabbitOpts []rabbitmq.Option
		if o.rabbitMQConfig != nil {
			rabbitOpts = append(rabbitOpts, rabbitmq.WithRabbitMQConfig(*o.rabbitMQConfig))
		}
		return fx.Options(
			rabbitmq.NewPublisherModule(rabbitOpts...),
			fx.Provide(func(p *rabbitmq.Publisher, cfg BrokerConfig, log *zap.Logger) broker.Publisher {
				return broker.NewBreaker(KindRabbitMQ, p, cfg.Breaker, log)
			}),
		)
	default:
		return fx.Options(
			kafkaConfigModule(o),
			producer.NewProducerModule(),
			fx.Provide(func(p *producer.Publisher, cfg BrokerConfig, log *zap.Logger) broker.Publisher {
				return broker.NewBreaker(KindKafka, p, cfg.Breaker, log)
			}),
		)
	}
}

func kafkaConfigModule(o *messagingOptions) fx.Option {
	if o.kafkaConfig != nil {
		return config.NewKafkaConfigModule(config.WithKafkaConfig(*o.kafkaConfig))
	}
	return config.NewKafkaConfigModule()
}

func resolveKind(kind string) (string, error) {
	if kind == "" {
		kind = os.Getenv(envBrokerKind)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "":
		return KindKafka, nil
	case KindKafka, KindRabbitMQ:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown broker kind %q, want %s or %s", kind, KindKafka, KindRabbitMQ)
	}
}

func newBrokerConfig(v *viper.Viper, kind string) (BrokerConfig, error) {
	var cfg BrokerConfig
	if sub := v.Sub("broker"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to load broker config: %w", err)
		}
	}
	return checkKind(cfg, kind)
}

// checkKind rejects a config file naming a different broker than the one the
// module was built with.
func checkKind(cfg BrokerConfig, kind string) (BrokerConfig, error) {
	if cfg.Kind == "" {
		cfg.Kind = kind
		return cfg, nil
	}
	if !strings.EqualFold(cfg.Kind, kind) {
		return cfg, fmt.Errorf("broker.kind is %q but the %s binding is wired; the binding is selected by %s, not the config file",
			cfg.Kind, kind, envBrokerKind)
	}
	cfg.Kind = kind
	return cfg, nil
}
