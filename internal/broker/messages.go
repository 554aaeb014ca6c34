package broker

import (
	"errors"
	"log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// HeaderValue returns the value of the first header named key
func HeaderValue(headers []kafka.Header, key string) (string, bool) {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// IsTimeout reports whether err is the poll timeout returned by ReadMessage
func IsTimeout(err error) bool {
	var kerr kafka.Error
	return errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut
}

// IsFatal reports whether err is a fatal client error. The client cannot
// recover from these and must be recreated.
func IsFatal(err error) bool {
	var kerr kafka.Error
	return errors.As(err, &kerr) && kerr.IsFatal()
}

// LogDeliveryEvents drains the producer event channel and logs failed
// deliveries. It returns when the channel is closed by Producer.Close.
func LogDeliveryEvents(deliveryChan chan kafka.Event) {
	for e := range deliveryChan {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				topic := ""
				if ev.TopicPartition.Topic != nil {
					topic = *ev.TopicPartition.Topic
				}
				log.Printf("❌ Delivery failed for message to %s[%d] (key: %s): %v",
					topic, ev.TopicPartition.Partition, string(ev.Key), ev.TopicPartition.Error)
			}
		case kafka.Error:
			log.Printf("❌ Kafka producer error: %v", ev)
		}
	}
}
