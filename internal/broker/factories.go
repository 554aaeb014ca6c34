package broker

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/config"
)

// DefaultClientFactory provides production Kafka client implementations
type DefaultClientFactory struct{}

// ProducerConfigMap builds the producer settings for ordered, persistent delivery.
// A single in-flight request with idempotence keeps per-partition order across retries.
func ProducerConfigMap(cfg config.KafkaConfig) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":                     cfg.Brokers,
		"acks":                                  cfg.Producer.Acks,
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 1,
		"linger.ms":                             5,
		"retries":                               2147483647,
		"retry.backoff.ms":                      50,
		"request.timeout.ms":                    5000,
		"delivery.timeout.ms":                   15000,
	}
}

// ConsumerConfigMap builds consumer settings. Offsets are committed by hand after each message.
func ConsumerConfigMap(cfg config.KafkaConfig, groupID string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           groupID,
		"auto.offset.reset":  cfg.Consumer.AutoOffsetReset,
		"enable.auto.commit": false,
	}
}

func (f *DefaultClientFactory) CreateProducer(cfg config.KafkaConfig) (Producer, error) {
	producer, err := kafka.NewProducer(ProducerConfigMap(cfg))
	if err != nil {
		return nil, err
	}
	return &KafkaProducerWrapper{producer}, nil
}

func (f *DefaultClientFactory) CreateConsumer(cfg config.KafkaConfig, groupID string) (Consumer, error) {
	consumer, err := kafka.NewConsumer(ConsumerConfigMap(cfg, groupID))
	if err != nil {
		return nil, err
	}
	return &KafkaConsumerWrapper{consumer}, nil
}

func (f *DefaultClientFactory) CreateAdmin(cfg config.KafkaConfig) (Admin, error) {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": cfg.Brokers})
	if err != nil {
		return nil, err
	}
	return admin, nil
}

// KafkaConsumerWrapper wraps the confluent-kafka-go consumer to implement our Consumer interface
type KafkaConsumerWrapper struct {
	*kafka.Consumer
}

func (w *KafkaConsumerWrapper) Subscribe(topics []string, rebalanceCb kafka.RebalanceCb) error {
	return w.Consumer.SubscribeTopics(topics, rebalanceCb)
}

func (w *KafkaConsumerWrapper) ReadMessage(timeoutMs int) (*kafka.Message, error) {
	return w.Consumer.ReadMessage(time.Duration(timeoutMs) * time.Millisecond)
}

func (w *KafkaConsumerWrapper) CommitMessage(msg *kafka.Message) error {
	_, err := w.Consumer.CommitMessage(msg)
	return err
}

// KafkaProducerWrapper wraps the confluent-kafka-go producer to implement our Producer interface
type KafkaProducerWrapper struct {
	*kafka.Producer
}
