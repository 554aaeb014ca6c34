package reassembler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/partition"
)

// Service runs the consume, handle, commit loop for one partition of the line topic
type Service struct {
	config      *config.Config
	reassembler *Reassembler
	consumer    broker.Consumer
	producer    broker.Producer // dead-letter producer, may be nil
	router      partition.Router

	now             func() time.Time
	lastStaleReport time.Time
	misrouted       int64
}

// NewService assembles the partition loop with its dependencies injected
func NewService(cfg *config.Config, reassembler *Reassembler, consumer broker.Consumer, producer broker.Producer) *Service {
	return &Service{
		config:      cfg,
		reassembler: reassembler,
		consumer:    consumer,
		producer:    producer,
		router:      partition.NewRouter(cfg.Kafka.LinesTopic, cfg.Kafka.Partitions),
		now:         time.Now,
	}
}

// Run consumes until ctx is cancelled or the consumer hits a fatal error.
// Every message is committed after Handle returns.
func (s *Service) Run(ctx context.Context) error {
	if err := s.attach(); err != nil {
		return err
	}
	s.lastStaleReport = s.now()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Context cancelled, stopping reassembler with %d open buffer(s)", s.reassembler.Buffer().Len())
			return nil
		default:
		}

		msg, err := s.consumer.ReadMessage(s.config.Kafka.PollTimeoutMs)
		s.reportStale()
		if err != nil {
			if broker.IsTimeout(err) {
				continue
			}
			if broker.IsFatal(err) {
				return fmt.Errorf("fatal consumer error: %w", err)
			}
			log.Printf("⚠️ Failed to read message: %v", err)
			continue
		}

		s.checkRouting(msg)

		// The message is handled to the end before shutdown is noticed, so a
		// committed terminal line always has its upload attempted
		s.reassembler.Handle(context.WithoutCancel(ctx), msg)

		if err := s.consumer.CommitMessage(msg); err != nil {
			if broker.IsFatal(err) {
				return fmt.Errorf("fatal commit error: %w", err)
			}
			log.Printf("⚠️ Failed to commit message at %v: %v", msg.TopicPartition, err)
		}

		if stats := s.reassembler.Stats(); stats.Messages%1000 == 0 {
			log.Printf("📊 Statistics: messages=%d, flushed=%d, malformed=%d, upload_failures=%d, digest_mismatches=%d, open_buffers=%d",
				stats.Messages, stats.Flushes, stats.Malformed, stats.UploadFailures, stats.DigestMismatches,
				s.reassembler.Buffer().Len())
		}
	}
}

// attach either takes a fixed partition or joins the consumer group
func (s *Service) attach() error {
	topic := s.config.Kafka.LinesTopic
	p := s.config.Reassembler.Partition

	if p >= 0 {
		log.Printf("🚀 Starting reassembler: brokers=%s, topic=%s, partition=%d, bucket=%s",
			s.config.Kafka.Brokers, topic, p, s.config.Storage.OutputBucket)
		err := s.consumer.Assign([]kafka.TopicPartition{{
			Topic:     &topic,
			Partition: int32(p),
			Offset:    kafka.OffsetStored,
		}})
		if err != nil {
			return fmt.Errorf("failed to assign partition %d of %s: %w", p, topic, err)
		}
		return nil
	}

	log.Printf("🚀 Starting reassembler: brokers=%s, topic=%s, group=%s, bucket=%s",
		s.config.Kafka.Brokers, topic, s.config.Reassembler.ConsumerGroup, s.config.Storage.OutputBucket)
	log.Printf("⚠️ No fixed partition configured; a rebalance during a file can leave it split across two instances")
	if err := s.consumer.Subscribe([]string{topic}, s.onRebalance); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// onRebalance logs partition movements. Open buffers survive a revoke but
// the rest of their files may now be delivered to another instance.
func (s *Service) onRebalance(_ *kafka.Consumer, ev kafka.Event) error {
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		log.Printf("🔁 Assigned partitions: %s", formatPartitions(e.Partitions))
	case kafka.RevokedPartitions:
		log.Printf("🔁 Revoked partitions: %s", formatPartitions(e.Partitions))
		if open := s.reassembler.Buffer().Keys(); len(open) > 0 {
			log.Printf("⚠️ %d open buffer(s) may never complete after this rebalance: %s",
				len(open), strings.Join(open, ", "))
		}
	}
	return nil
}

// checkRouting warns when a keyed message sits on a partition its key does
// not hash to, which means splitter and reassembler disagree on kafka.partitions
func (s *Service) checkRouting(msg *kafka.Message) {
	if len(msg.Key) == 0 || s.router.Partitions <= 0 {
		return
	}
	fileIdentity := string(msg.Key)
	got := msg.TopicPartition.Partition
	if s.router.Owns(got, fileIdentity) {
		return
	}
	s.misrouted++
	if s.misrouted == 1 || s.misrouted%1000 == 0 {
		log.Printf("⚠️ %q arrived on partition %d but hashes to %d of %d; check kafka.partitions (%d misrouted so far)",
			fileIdentity, got, s.router.PartitionFor(fileIdentity), s.router.Partitions, s.misrouted)
	}
}

// reportStale logs entries idle for longer than stale_after, at most once per interval
func (s *Service) reportStale() {
	idle := s.config.Reassembler.StaleAfter
	if idle <= 0 {
		return
	}
	now := s.now()
	if now.Sub(s.lastStaleReport) < idle {
		return
	}
	s.lastStaleReport = now

	for _, e := range s.reassembler.Buffer().Stale(idle) {
		log.Printf("⏰ Buffer for %q has %d line(s) and no terminal line after %s (sequence %s)",
			e.FileIdentity, e.Lines, e.IdleFor.Round(time.Second), e.SequenceID)
	}
}

func formatPartitions(partitions []kafka.TopicPartition) string {
	parts := make([]string, 0, len(partitions))
	for _, tp := range partitions {
		topic := ""
		if tp.Topic != nil {
			topic = *tp.Topic
		}
		parts = append(parts, fmt.Sprintf("%s[%d]", topic, tp.Partition))
	}
	return strings.Join(parts, ", ")
}

// Close releases the Kafka clients
func (s *Service) Close() {
	log.Println("Shutting down reassembler...")

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Printf("⚠️ Failed to close consumer: %v", err)
		}
	}

	if s.producer != nil {
		if remaining := s.producer.Flush(s.config.Kafka.Producer.FlushTimeoutMs); remaining > 0 {
			log.Printf("⚠️ %d dead letters undelivered at shutdown", remaining)
		}
		s.producer.Close()
	}

	if open := s.reassembler.Buffer().Len(); open > 0 {
		log.Printf("⚠️ %d incomplete buffer(s) discarded at shutdown", open)
	}
	log.Println("Reassembler shutdown complete")
}
