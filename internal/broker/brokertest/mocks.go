// Package brokertest provides testify mocks of the broker interfaces.
package brokertest

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/mock"
)

// MockProducer reports every accepted message on the caller's delivery
// channel, carrying DeliveryErr as its delivery error.
type MockProducer struct {
	mock.Mock
	DeliveryErr error
}

func (m *MockProducer) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	args := m.Called(topic, allTopics, timeoutMs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kafka.Metadata), args.Error(1)
}

func (m *MockProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	args := m.Called(msg, deliveryChan)
	if err := args.Error(0); err != nil {
		return err
	}
	if deliveryChan != nil {
		report := *msg
		report.TopicPartition.Error = m.DeliveryErr
		select {
		case deliveryChan <- &report:
		default:
		}
	}
	return nil
}

func (m *MockProducer) Events() chan kafka.Event {
	args := m.Called()
	return args.Get(0).(chan kafka.Event)
}

func (m *MockProducer) Flush(timeoutMs int) int {
	args := m.Called(timeoutMs)
	return args.Int(0)
}

func (m *MockProducer) Close() {
	m.Called()
}

// Produced returns the messages passed to successful Produce calls, in order
func (m *MockProducer) Produced() []*kafka.Message {
	var out []*kafka.Message
	for _, call := range m.Calls {
		if call.Method != "Produce" {
			continue
		}
		if err, _ := call.ReturnArguments.Get(0).(error); err != nil {
			continue
		}
		out = append(out, call.Arguments.Get(0).(*kafka.Message))
	}
	return out
}

type MockConsumer struct {
	mock.Mock
}

func (m *MockConsumer) GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error) {
	args := m.Called(topic, allTopics, timeoutMs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kafka.Metadata), args.Error(1)
}

func (m *MockConsumer) Subscribe(topics []string, rebalanceCb kafka.RebalanceCb) error {
	args := m.Called(topics, rebalanceCb)
	return args.Error(0)
}

func (m *MockConsumer) Assign(partitions []kafka.TopicPartition) error {
	args := m.Called(partitions)
	return args.Error(0)
}

func (m *MockConsumer) ReadMessage(timeoutMs int) (*kafka.Message, error) {
	args := m.Called(timeoutMs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kafka.Message), args.Error(1)
}

func (m *MockConsumer) CommitMessage(msg *kafka.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	args := m.Called(ctx, topics)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafka.TopicResult), args.Error(1)
}

func (m *MockAdmin) Close() {
	m.Called()
}

// Message builds a consumed message on topic/partition with the given body and headers
func Message(topic string, partition int32, offset int64, key string, value []byte, headers ...kafka.Header) *kafka.Message {
	t := topic
	var k []byte
	if key != "" {
		k = []byte(key)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t, Partition: partition, Offset: kafka.Offset(offset)},
		Key:            k,
		Value:          value,
		Headers:        headers,
	}
}
