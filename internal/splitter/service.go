package splitter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/events"
	"github.com/Log-Tools/linepipe/internal/storage"
)

// Service consumes split triggers one at a time and runs the splitter for each
type Service struct {
	config      *config.Config
	splitter    *Splitter
	consumer    broker.Consumer
	producer    broker.Producer
	deadLetters *broker.DeadLetterPublisher

	processedCount int64
	failedCount    int64
	linesCount     int64
}

// NewService assembles the trigger loop with its dependencies injected
func NewService(cfg *config.Config, splitter *Splitter, consumer broker.Consumer, deadLetters *broker.DeadLetterPublisher) *Service {
	return &Service{
		config:      cfg,
		splitter:    splitter,
		consumer:    consumer,
		producer:    splitter.producer,
		deadLetters: deadLetters,
	}
}

// Run processes triggers until ctx is cancelled or the consumer hits a fatal error.
// Every trigger is committed once handled, whether or not the split succeeded.
func (s *Service) Run(ctx context.Context) error {
	topic := s.config.Kafka.FilesTopic
	log.Printf("🚀 Starting splitter: brokers=%s, trigger_topic=%s, line_topic=%s, partitions=%d, bucket=%s, format=%s",
		s.config.Kafka.Brokers, topic, s.config.Kafka.LinesTopic, s.config.Kafka.Partitions,
		s.config.Storage.InputBucket, s.config.Splitter.Format)

	if err := s.consumer.Subscribe([]string{topic}, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	log.Printf("⏳ Waiting for split triggers on %s", topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Context cancelled, stopping splitter")
			return nil
		default:
		}

		msg, err := s.consumer.ReadMessage(s.config.Kafka.PollTimeoutMs)
		if err != nil {
			if broker.IsTimeout(err) {
				continue
			}
			if broker.IsFatal(err) {
				return fmt.Errorf("fatal consumer error: %w", err)
			}
			log.Printf("⚠️ Failed to read trigger: %v", err)
			continue
		}

		// A trigger in hand is split to the end; shutdown is only noticed between triggers
		s.handleTrigger(context.WithoutCancel(ctx), msg)

		if err := s.consumer.CommitMessage(msg); err != nil {
			if broker.IsFatal(err) {
				return fmt.Errorf("fatal commit error: %w", err)
			}
			log.Printf("⚠️ Failed to commit trigger at %v: %v", msg.TopicPartition, err)
		}
	}
}

// handleTrigger never fails: problems are logged and optionally dead-lettered
func (s *Service) handleTrigger(ctx context.Context, msg *kafka.Message) {
	fileIdentity := strings.TrimRight(string(msg.Value), "\r\n")

	defer func() {
		if r := recover(); r != nil {
			s.failedCount++
			log.Printf("❌ Panic while splitting %q: %v", fileIdentity, r)
			s.deadLetter(fileIdentity, events.ReasonHandlerPanic, fmt.Errorf("panic: %v", r), msg.Value)
		}
	}()

	s.processedCount++
	if s.processedCount%1000 == 0 {
		log.Printf("📊 Statistics: triggers=%d, failed=%d, lines=%d", s.processedCount, s.failedCount, s.linesCount)
	}

	if fileIdentity == "" {
		s.failedCount++
		log.Printf("⚠️ Ignoring trigger with empty file name at %v", msg.TopicPartition)
		s.deadLetter("", events.ReasonEmptyTrigger, errors.New("empty trigger body"), msg.Value)
		return
	}

	log.Printf("📥 Received job for file: %q", fileIdentity)
	start := time.Now()

	result, err := s.splitter.SplitAndPublish(ctx, fileIdentity)
	if err != nil {
		s.failedCount++
		published := 0
		if result != nil {
			published = result.LinesPublished
		}
		log.Printf("❌ Failed to split %q after %d lines: %v", fileIdentity, published, err)
		s.deadLetter(fileIdentity, events.ReasonSplitFailed, err, msg.Value)
		return
	}

	s.linesCount += int64(result.LinesPublished)
	if result.LinesPublished == 0 {
		log.Printf("⚠️ %q has no lines; nothing published", fileIdentity)
		return
	}
	log.Printf("✅ Finished %q: %d lines from %s (%s) to partition %d in %s, sequence %s",
		fileIdentity, result.LinesPublished, storage.FormatBytes(result.Bytes), result.Encoding,
		s.splitter.router.PartitionFor(fileIdentity), time.Since(start).Round(time.Millisecond), result.SequenceID)
}

func (s *Service) deadLetter(fileIdentity, reason string, cause error, payload []byte) {
	if !s.deadLetters.Enabled() {
		return
	}
	err := s.deadLetters.Publish(events.DeadLetter{
		FileName:  fileIdentity,
		Reason:    reason,
		Error:     cause.Error(),
		Payload:   payload,
		Source:    "splitter",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️ Dead letter for %q not recorded: %v", fileIdentity, err)
	}
}

// Close flushes pending lines and releases the Kafka clients
func (s *Service) Close() {
	log.Println("Shutting down splitter...")

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Printf("⚠️ Failed to close consumer: %v", err)
		}
	}

	if s.producer != nil {
		if remaining := s.producer.Flush(s.config.Kafka.Producer.FlushTimeoutMs); remaining > 0 {
			log.Printf("⚠️ %d messages undelivered at shutdown", remaining)
		}
		s.producer.Close()
	}

	log.Println("Splitter shutdown complete")
}
