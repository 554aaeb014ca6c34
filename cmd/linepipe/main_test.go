package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Log-Tools/linepipe/internal/broker/brokertest"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/storage"
	"github.com/Log-Tools/linepipe/internal/storage/storagetest"
)

func TestReadNames(t *testing.T) {
	names, err := readNames(strings.NewReader("report.txt\r\n\n   \nlogs/access 1.log \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt", "logs/access 1.log "}, names)
}

func TestEnqueueFiles(t *testing.T) {
	producer := &brokertest.MockProducer{}
	producer.On("Produce", mock.Anything, mock.Anything).Return(nil)
	producer.On("Flush", 1000).Return(0)

	sent, err := enqueueFiles(producer, "files", []string{"report.txt", " ", "access.log.gz"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	produced := producer.Produced()
	require.Len(t, produced, 2)
	assert.Equal(t, "report.txt", string(produced[0].Value))
	assert.Equal(t, "files", *produced[0].TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, produced[0].TopicPartition.Partition)
	assert.Equal(t, "access.log.gz", string(produced[1].Value))
}

func TestEnqueueFiles_Failures(t *testing.T) {
	t.Run("produce error", func(t *testing.T) {
		producer := &brokertest.MockProducer{}
		producer.On("Produce", mock.Anything, mock.Anything).Return(nil).Once()
		producer.On("Produce", mock.Anything, mock.Anything).Return(kafka.NewError(kafka.ErrQueueFull, "queue full", false))

		sent, err := enqueueFiles(producer, "files", []string{"a", "b"}, 1000)
		assert.ErrorContains(t, err, "failed to queue b")
		assert.Equal(t, 1, sent)
		producer.AssertNotCalled(t, "Flush", mock.Anything)
	})

	t.Run("undelivered", func(t *testing.T) {
		producer := &brokertest.MockProducer{}
		producer.On("Produce", mock.Anything, mock.Anything).Return(nil)
		producer.On("Flush", 1000).Return(1)

		sent, err := enqueueFiles(producer, "files", []string{"a", "b"}, 1000)
		assert.ErrorContains(t, err, "1 trigger(s) not delivered")
		assert.Equal(t, 1, sent)
	})
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "env-broker:9092")
	t.Setenv("REASSEMBLER_PARTITION", "2")
	configPath, kafkaBrokers, logLevel = "", "flag-broker:9092", "debug"
	t.Cleanup(func() { configPath, kafkaBrokers, logLevel = "", "", "" })

	cfg, err := loadConfig(config.RoleReassembler, func(cfg *config.Config) {
		cfg.Reassembler.Partition = 5
	})
	require.NoError(t, err)
	assert.Equal(t, "flag-broker:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Reassembler.Partition)
}

func TestLoadConfig_OverrideIsValidated(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_PARTITIONS", "4")

	_, err := loadConfig(config.RoleReassembler, func(cfg *config.Config) {
		cfg.Reassembler.Partition = 4
	})
	assert.ErrorContains(t, err, "reassembler partition must be -1 or between 0 and partitions-1")
}

func TestRunWithHealth_ServiceErrorStopsHealth(t *testing.T) {
	cfg := config.Default()
	cfg.Health.Address = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() {
		done <- runWithHealth(context.Background(), cfg, func(context.Context) error {
			return errors.New("fatal consumer error")
		})
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "fatal consumer error")
	case <-time.After(10 * time.Second):
		t.Fatal("runWithHealth did not return")
	}
}

func TestRunWithHealth_HealthFailureKeepsServiceRunning(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := config.Default()
	cfg.Health.Address = taken.Addr().String()

	ran := false
	err = runWithHealth(context.Background(), cfg, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		ran = true
		return ctx.Err()
	})
	assert.NoError(t, err)
	assert.True(t, ran)
	assert.Contains(t, logged.String(), "Health endpoint failed")
}

func TestRunWithHealth_Cancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Health.Address = ""
	ctx, cancel := context.WithCancel(context.Background())

	err := runWithHealth(ctx, cfg, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return nil
	})
	assert.NoError(t, err)
}

func TestListNames(t *testing.T) {
	ctx := context.Background()
	store := &storagetest.MockObjectStore{}
	store.On("List", ctx, "input", "logs/").Return([]storage.ObjectInfo{
		{Key: "logs/", Size: 0},
		{Key: "logs/a.txt", Size: 1024},
		{Key: "logs/b.txt.gz", Size: 2048},
	}, nil)

	names, err := listNames(ctx, store, "input", "logs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/a.txt", "logs/b.txt.gz"}, names)

	failing := &storagetest.MockObjectStore{}
	failing.On("List", ctx, "absent", "").Return(nil, storage.ErrNotFound)
	_, err = listNames(ctx, failing, "absent", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
