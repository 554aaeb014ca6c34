// Package broker wraps confluent-kafka-go behind small interfaces so the
// splitter and reassembler loops can be tested without a running cluster.
package broker

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/config"
)

// MetadataProber is implemented by every Kafka client handle
type MetadataProber interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
}

// Producer defines the interface for Kafka producer operations
type Producer interface {
	MetadataProber
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Consumer defines the interface for Kafka consumer operations
type Consumer interface {
	MetadataProber
	Subscribe(topics []string, rebalanceCb kafka.RebalanceCb) error
	Assign(partitions []kafka.TopicPartition) error
	ReadMessage(timeoutMs int) (*kafka.Message, error)
	CommitMessage(msg *kafka.Message) error
	Close() error
}

// Admin defines the topic administration calls used by `linepipe topics`
type Admin interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	Close()
}

// ClientFactory defines the interface for creating Kafka clients
type ClientFactory interface {
	CreateProducer(cfg config.KafkaConfig) (Producer, error)
	CreateConsumer(cfg config.KafkaConfig, groupID string) (Consumer, error)
	CreateAdmin(cfg config.KafkaConfig) (Admin, error)
}
