package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Log-Tools/linepipe/internal/broker/brokertest"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/events"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2, MaxAttempts: attempts}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5))
	assert.Equal(t, 30*time.Second, b.Delay(50))
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastBackoff(5), "probe", func() error {
			calls++
			if calls < 3 {
				return errors.New("broker down")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastBackoff(3), "probe", func() error {
			calls++
			return errors.New("broker down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Contains(t, err.Error(), "broker down")
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Retry(ctx, fastBackoff(0), "probe", func() error {
			calls++
			if calls == 2 {
				cancel()
			}
			return errors.New("broker down")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, calls)
	})
}

func TestWaitForBroker(t *testing.T) {
	prober := &brokertest.MockProducer{}
	prober.On("GetMetadata", (*string)(nil), false, 500).Return(nil, kafka.NewError(kafka.ErrTransport, "connection refused", false)).Once()
	prober.On("GetMetadata", (*string)(nil), false, 500).Return(&kafka.Metadata{
		Brokers: []kafka.BrokerMetadata{{ID: 1, Host: "kafka", Port: 9092}},
	}, nil).Once()

	require.NoError(t, WaitForBroker(context.Background(), prober, fastBackoff(3), 500))
	prober.AssertExpectations(t)
}

func TestBackoffFromConfig(t *testing.T) {
	b := BackoffFromConfig(config.RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 3, MaxAttempts: 7})
	assert.Equal(t, Backoff{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 3, MaxAttempts: 7}, b)
}

func TestErrorClassification(t *testing.T) {
	timeout := kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	fatal := kafka.NewError(kafka.ErrFatal, "fenced", true)

	assert.True(t, IsTimeout(timeout))
	assert.True(t, IsTimeout(fmt.Errorf("read: %w", timeout)))
	assert.False(t, IsTimeout(fatal))
	assert.False(t, IsTimeout(errors.New("plain")))

	assert.True(t, IsFatal(fatal))
	assert.False(t, IsFatal(timeout))
	assert.False(t, IsFatal(nil))
}

func TestHeaderValue(t *testing.T) {
	headers := []kafka.Header{
		{Key: events.HeaderContentType, Value: []byte(events.ContentTypeCBOR)},
		{Key: events.HeaderLineNumber, Value: []byte("3")},
	}

	v, ok := HeaderValue(headers, events.HeaderLineNumber)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = HeaderValue(headers, events.HeaderContentDigest)
	assert.False(t, ok)
}

func TestDeadLetterPublisher(t *testing.T) {
	t.Run("disabled without topic", func(t *testing.T) {
		producer := &brokertest.MockProducer{}
		publisher := NewDeadLetterPublisher(producer, "")
		assert.Nil(t, publisher)
		assert.False(t, publisher.Enabled())
		assert.NoError(t, publisher.Publish(events.DeadLetter{Reason: events.ReasonMalformed}))
		producer.AssertNotCalled(t, "Produce", mock.Anything, mock.Anything)
	})

	t.Run("produces JSON record keyed by file", func(t *testing.T) {
		producer := &brokertest.MockProducer{}
		producer.On("Produce", mock.Anything, (chan kafka.Event)(nil)).Return(nil)

		publisher := NewDeadLetterPublisher(producer, "linepipe.deadletter")
		err := publisher.Publish(events.DeadLetter{
			FileName: "report.txt",
			Reason:   events.ReasonUploadFailed,
			Error:    "bucket unavailable",
			Source:   "reassembler",
		})
		require.NoError(t, err)

		produced := producer.Produced()
		require.Len(t, produced, 1)
		msg := produced[0]
		assert.Equal(t, "linepipe.deadletter", *msg.TopicPartition.Topic)
		assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
		assert.Equal(t, "report.txt", string(msg.Key))

		reason, _ := HeaderValue(msg.Headers, "reason")
		assert.Equal(t, events.ReasonUploadFailed, reason)

		var record events.DeadLetter
		require.NoError(t, json.Unmarshal(msg.Value, &record))
		assert.Equal(t, "bucket unavailable", record.Error)
	})

	t.Run("returns produce errors", func(t *testing.T) {
		producer := &brokertest.MockProducer{}
		producer.On("Produce", mock.Anything, mock.Anything).Return(kafka.NewError(kafka.ErrQueueFull, "queue full", false))

		err := NewDeadLetterPublisher(producer, "dlq").Publish(events.DeadLetter{FileName: "a"})
		assert.Error(t, err)
	})
}

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:         "localhost:9092",
		FilesTopic:      "files",
		LinesTopic:      "queue",
		DeadLetterTopic: "linepipe.deadletter",
		Partitions:      12,
		FilesPartitions: 1,
	}
}

func TestDefaultTopics(t *testing.T) {
	specs := DefaultTopics(testKafkaConfig()).Specifications()
	require.Len(t, specs, 3)

	assert.Equal(t, "files", specs[0].Topic)
	assert.Equal(t, 1, specs[0].NumPartitions)
	assert.Equal(t, "linepipe.deadletter", specs[1].Topic)
	assert.Equal(t, "queue", specs[2].Topic)
	assert.Equal(t, 12, specs[2].NumPartitions)
	assert.Equal(t, 1, specs[2].ReplicationFactor)
	assert.Equal(t, "delete", specs[2].Config["cleanup.policy"])

	cfg := testKafkaConfig()
	cfg.DeadLetterTopic = ""
	assert.Len(t, DefaultTopics(cfg).Topics, 2)
}

func TestLoadTopicFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
topics:
  queue:
    partitions: 6
    replication.factor: 3
    cleanup.policy: delete
    retention.ms: 86400000
  files:
    partitions: 1
`), 0o600))

	tf, err := LoadTopicFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"files", "queue"}, tf.Names())

	specs := tf.Specifications()
	assert.Equal(t, 6, specs[1].NumPartitions)
	assert.Equal(t, 3, specs[1].ReplicationFactor)
	assert.Equal(t, "86400000", specs[1].Config["retention.ms"])
	assert.NotContains(t, specs[0].Config, "cleanup.policy")

	_, err = LoadTopicFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnsureTopics(t *testing.T) {
	ctx := context.Background()
	tf := DefaultTopics(testKafkaConfig())

	t.Run("counts created and existing topics", func(t *testing.T) {
		admin := &brokertest.MockAdmin{}
		admin.On("CreateTopics", ctx, tf.Specifications()).Return([]kafka.TopicResult{
			{Topic: "files", Error: kafka.NewError(kafka.ErrNoError, "", false)},
			{Topic: "linepipe.deadletter", Error: kafka.NewError(kafka.ErrNoError, "", false)},
			{Topic: "queue", Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "exists", false)},
		}, nil)

		summary, err := EnsureTopics(ctx, admin, tf)
		require.NoError(t, err)
		assert.Equal(t, TopicSummary{Created: 2, Existing: 1}, summary)
	})

	t.Run("reports failures", func(t *testing.T) {
		admin := &brokertest.MockAdmin{}
		admin.On("CreateTopics", ctx, mock.Anything).Return([]kafka.TopicResult{
			{Topic: "queue", Error: kafka.NewError(kafka.ErrInvalidPartitions, "bad", false)},
		}, nil)

		summary, err := EnsureTopics(ctx, admin, tf)
		assert.Error(t, err)
		assert.Equal(t, 1, summary.Failed)
	})

	t.Run("request failure", func(t *testing.T) {
		admin := &brokertest.MockAdmin{}
		admin.On("CreateTopics", ctx, mock.Anything).Return(nil, errors.New("no controller"))

		_, err := EnsureTopics(ctx, admin, tf)
		assert.ErrorContains(t, err, "no controller")
	})
}

func TestDescribeTopics(t *testing.T) {
	var out bytes.Buffer
	DescribeTopics(&out, DefaultTopics(testKafkaConfig()))

	assert.Contains(t, out.String(), "would create/verify 3 topic(s)")
	assert.Contains(t, out.String(), "queue (partitions: 12, replication: 1, cleanup: delete)")
}

func TestClientConfigMaps(t *testing.T) {
	cfg := testKafkaConfig()
	cfg.Producer.Acks = "all"
	cfg.Consumer.AutoOffsetReset = "earliest"

	producer := *ProducerConfigMap(cfg)
	assert.Equal(t, "all", producer["acks"])
	assert.Equal(t, true, producer["enable.idempotence"])
	assert.Equal(t, 1, producer["max.in.flight.requests.per.connection"])

	consumer := *ConsumerConfigMap(cfg, "linepipe-reassembler")
	assert.Equal(t, "linepipe-reassembler", consumer["group.id"])
	assert.Equal(t, false, consumer["enable.auto.commit"])
	assert.Equal(t, "earliest", consumer["auto.offset.reset"])
}
