package broker

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/events"
)

// DeadLetterPublisher records acknowledged-but-incomplete work on the
// dead-letter topic. A nil publisher, or one with an empty topic, drops
// records silently.
type DeadLetterPublisher struct {
	producer Producer
	topic    string
}

// NewDeadLetterPublisher returns nil when topic is empty
func NewDeadLetterPublisher(producer Producer, topic string) *DeadLetterPublisher {
	if topic == "" || producer == nil {
		return nil
	}
	return &DeadLetterPublisher{producer: producer, topic: topic}
}

// Enabled reports whether Publish will produce anything
func (d *DeadLetterPublisher) Enabled() bool {
	return d != nil && d.topic != ""
}

// Publish enqueues one record. Delivery is reported asynchronously on the
// producer event channel.
func (d *DeadLetterPublisher) Publish(record events.DeadLetter) error {
	if !d.Enabled() {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	topic := d.topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(record.FileName),
		Value:          data,
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(events.DeadLetterEventType)},
			{Key: "reason", Value: []byte(record.Reason)},
			{Key: events.HeaderContentType, Value: []byte(events.ContentTypeJSON)},
		},
	}

	if err := d.producer.Produce(msg, nil); err != nil {
		log.Printf("❌ Failed to produce dead letter for %q (reason: %s): %v", record.FileName, record.Reason, err)
		return fmt.Errorf("failed to produce dead letter: %w", err)
	}
	return nil
}
