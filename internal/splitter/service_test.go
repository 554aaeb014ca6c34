package splitter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/broker/brokertest"
	"github.com/Log-Tools/linepipe/internal/events"
	"github.com/Log-Tools/linepipe/internal/storage"
	"github.com/Log-Tools/linepipe/internal/storage/storagetest"
)

var timedOut = kafka.NewError(kafka.ErrTimedOut, "timed out", false)

// scriptConsumer returns the given triggers, then cancels ctx on the next poll
func scriptConsumer(cancel context.CancelFunc, triggers ...*kafka.Message) *brokertest.MockConsumer {
	consumer := &brokertest.MockConsumer{}
	consumer.On("Subscribe", []string{"files"}, kafka.RebalanceCb(nil)).Return(nil)
	for _, msg := range triggers {
		consumer.On("ReadMessage", 10).Return(msg, nil).Once()
	}
	consumer.On("ReadMessage", 10).Run(func(mock.Arguments) { cancel() }).Return(nil, timedOut)
	consumer.On("CommitMessage", mock.Anything).Return(nil)
	return consumer
}

func trigger(offset int64, body string) *kafka.Message {
	return brokertest.Message("files", 0, offset, "", []byte(body))
}

func TestService_SplitsAndCommitsEachTrigger(t *testing.T) {
	cfg := createTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := trigger(0, "report.txt\n")
	consumer := scriptConsumer(cancel, first)

	s, store, producer := newTestSplitter(t, cfg, "alpha\nbeta\ngamma")
	svc := NewService(cfg, s, consumer, nil)

	require.NoError(t, svc.Run(ctx))

	store.AssertCalled(t, "Get", mock.Anything, inputBucket, "report.txt")
	assert.Len(t, producer.Produced(), 3)
	consumer.AssertCalled(t, "CommitMessage", first)
	consumer.AssertNumberOfCalls(t, "CommitMessage", 1)
}

func TestService_CommitsFailedTriggers(t *testing.T) {
	cfg := createTestConfig()
	cfg.Kafka.DeadLetterTopic = "linepipe.deadletter"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	missing := trigger(0, "missing.txt")
	empty := trigger(1, "\r\n")
	consumer := scriptConsumer(cancel, missing, empty)

	store := &storagetest.MockObjectStore{}
	store.On("Get", mock.Anything, inputBucket, "missing.txt").Return(nil, storage.ErrNotFound)

	producer := &brokertest.MockProducer{}
	producer.On("Produce", mock.Anything, mock.Anything).Return(nil)

	s, err := New(cfg, store, producer)
	require.NoError(t, err)
	svc := NewService(cfg, s, consumer, broker.NewDeadLetterPublisher(producer, cfg.Kafka.DeadLetterTopic))

	require.NoError(t, svc.Run(ctx))

	consumer.AssertCalled(t, "CommitMessage", missing)
	consumer.AssertCalled(t, "CommitMessage", empty)
	store.AssertNumberOfCalls(t, "Get", 1)

	produced := producer.Produced()
	require.Len(t, produced, 2)

	var first, second events.DeadLetter
	require.NoError(t, json.Unmarshal(produced[0].Value, &first))
	require.NoError(t, json.Unmarshal(produced[1].Value, &second))
	assert.Equal(t, events.ReasonSplitFailed, first.Reason)
	assert.Equal(t, "missing.txt", first.FileName)
	assert.Equal(t, "splitter", first.Source)
	assert.Equal(t, events.ReasonEmptyTrigger, second.Reason)
	assert.Equal(t, []byte("\r\n"), second.Payload)
}

func TestService_RejectedDeliveryIsDeadLettered(t *testing.T) {
	cfg := createTestConfig()
	cfg.Kafka.DeadLetterTopic = "linepipe.deadletter"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := trigger(0, "report.txt")
	consumer := scriptConsumer(cancel, msg)

	s, _, producer := newTestSplitter(t, cfg, "alpha\nbeta")
	producer.DeliveryErr = kafka.NewError(kafka.ErrMsgTimedOut, "message timed out", false)
	svc := NewService(cfg, s, consumer, broker.NewDeadLetterPublisher(producer, cfg.Kafka.DeadLetterTopic))

	require.NoError(t, svc.Run(ctx))
	consumer.AssertCalled(t, "CommitMessage", msg)

	produced := producer.Produced()
	require.Len(t, produced, 3)
	var dl events.DeadLetter
	require.NoError(t, json.Unmarshal(produced[2].Value, &dl))
	assert.Equal(t, events.ReasonSplitFailed, dl.Reason)
	assert.Equal(t, "report.txt", dl.FileName)
	assert.Contains(t, dl.Error, "failed delivery")
}

func TestService_ShutdownDuringTriggerFinishesSplit(t *testing.T) {
	cfg := createTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := trigger(0, "report.txt")
	consumer := &brokertest.MockConsumer{}
	consumer.On("Subscribe", []string{"files"}, kafka.RebalanceCb(nil)).Return(nil)
	consumer.On("ReadMessage", 10).Run(func(mock.Arguments) { cancel() }).Return(msg, nil).Once()
	consumer.On("CommitMessage", msg).Return(nil)

	s, _, producer := newTestSplitter(t, cfg, "alpha\nbeta\ngamma")
	require.NoError(t, NewService(cfg, s, consumer, nil).Run(ctx))

	lines := decodeAll(t, producer.Produced())
	require.Len(t, lines, 3)
	assert.True(t, lines[2].IsLastLine)
	consumer.AssertCalled(t, "CommitMessage", msg)
	consumer.AssertNumberOfCalls(t, "ReadMessage", 1)
}

func TestService_TriggerBodyIsTheExactKey(t *testing.T) {
	cfg := createTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := trigger(0, " logs/report 1.txt \n")
	consumer := scriptConsumer(cancel, msg)

	store := &storagetest.MockObjectStore{}
	store.On("Get", mock.Anything, inputBucket, " logs/report 1.txt ").Return(storagetest.Body("alpha"), nil)
	producer := &brokertest.MockProducer{}
	producer.On("Produce", mock.Anything, mock.Anything).Return(nil)
	producer.On("Flush", mock.Anything).Return(0)

	s, err := New(cfg, store, producer)
	require.NoError(t, err)
	require.NoError(t, NewService(cfg, s, consumer, nil).Run(ctx))

	store.AssertExpectations(t)
	lines := decodeAll(t, producer.Produced())
	require.Len(t, lines, 1)
	assert.Equal(t, " logs/report 1.txt ", lines[0].FileName)
}

func TestService_FatalConsumerError(t *testing.T) {
	cfg := createTestConfig()
	consumer := &brokertest.MockConsumer{}
	consumer.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	consumer.On("ReadMessage", 10).Return(nil, kafka.NewError(kafka.ErrFatal, "fenced", true))

	s, _, _ := newTestSplitter(t, cfg, "")
	err := NewService(cfg, s, consumer, nil).Run(context.Background())
	assert.ErrorContains(t, err, "fatal consumer error")
}

func TestService_TransientReadErrorsAreSkipped(t *testing.T) {
	cfg := createTestConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := &brokertest.MockConsumer{}
	consumer.On("Subscribe", mock.Anything, mock.Anything).Return(nil)
	consumer.On("ReadMessage", 10).Return(nil, kafka.NewError(kafka.ErrTransport, "broker down", false)).Once()
	consumer.On("ReadMessage", 10).Run(func(mock.Arguments) { cancel() }).Return(nil, timedOut)

	s, _, _ := newTestSplitter(t, cfg, "")
	require.NoError(t, NewService(cfg, s, consumer, nil).Run(ctx))
	consumer.AssertNotCalled(t, "CommitMessage", mock.Anything)
}

func TestService_SubscribeFailure(t *testing.T) {
	cfg := createTestConfig()
	consumer := &brokertest.MockConsumer{}
	consumer.On("Subscribe", mock.Anything, mock.Anything).Return(kafka.NewError(kafka.ErrUnknownTopic, "unknown topic", false))

	s, _, _ := newTestSplitter(t, cfg, "")
	err := NewService(cfg, s, consumer, nil).Run(context.Background())
	assert.ErrorContains(t, err, "failed to subscribe")
}

func TestService_Close(t *testing.T) {
	cfg := createTestConfig()
	consumer := &brokertest.MockConsumer{}
	consumer.On("Close").Return(nil)

	s, _, producer := newTestSplitter(t, cfg, "")
	producer.On("Close").Return()

	NewService(cfg, s, consumer, nil).Close()

	consumer.AssertCalled(t, "Close")
	producer.AssertCalled(t, "Flush", cfg.Kafka.Producer.FlushTimeoutMs)
	producer.AssertCalled(t, "Close")
}
