// Package splitter turns a stored text object into an ordered sequence of
// line messages on the partitioned line topic.
package splitter

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/events"
	"github.com/Log-Tools/linepipe/internal/partition"
	"github.com/Log-Tools/linepipe/internal/storage"
)

// Output formats
const (
	FormatTagged = "tagged"
	FormatPlain  = "plain"
)

// Flush periodically so the producer queue stays bounded on large objects
const flushInterval = 1000

// How long to wait for delivery reports once a flush has drained the queue
const deliveryReportWait = 5 * time.Second

// SplitResult describes one completed split run
type SplitResult struct {
	FileIdentity   string
	SequenceID     string
	LinesPublished int
	Bytes          int64
	Encoding       string
}

// Splitter downloads objects and publishes their lines
type Splitter struct {
	store          storage.ObjectStore
	producer       broker.Producer
	codec          events.Codec
	router         partition.Router
	bucket         string
	format         string
	lineBufferSize int
	flushTimeoutMs int
	debug          bool
}

// New creates a splitter publishing to the configured line topic
func New(cfg *config.Config, store storage.ObjectStore, producer broker.Producer) (*Splitter, error) {
	codec, err := events.CodecByName(cfg.Splitter.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.Partitions <= 0 {
		return nil, fmt.Errorf("line topic needs at least one partition, got %d", cfg.Kafka.Partitions)
	}

	return &Splitter{
		store:          store,
		producer:       producer,
		codec:          codec,
		router:         partition.NewRouter(cfg.Kafka.LinesTopic, cfg.Kafka.Partitions),
		bucket:         cfg.Storage.InputBucket,
		format:         cfg.Splitter.Format,
		lineBufferSize: cfg.Splitter.LineBufferSize,
		flushTimeoutMs: cfg.Kafka.Producer.FlushTimeoutMs,
		debug:          cfg.LogLevel == "debug",
	}, nil
}

// SplitAndPublish publishes every line of the object named fileIdentity in
// order. In tagged format the last message carries the terminal flag; an
// object without lines publishes nothing. If publishing fails part way the
// lines already sent stay on the topic and the error is returned.
func (s *Splitter) SplitAndPublish(ctx context.Context, fileIdentity string) (*SplitResult, error) {
	body, err := s.store.Get(ctx, s.bucket, fileIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", s.bucket, fileIdentity, err)
	}
	defer body.Close()

	counted, bytesRead := storage.CountingReader(body)
	text, encoding, err := storage.Decompress(counted)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s: %w", s.bucket, fileIdentity, err)
	}
	defer text.Close()

	run := &splitRun{
		splitter: s,
		result: &SplitResult{
			FileIdentity: fileIdentity,
			SequenceID:   uuid.NewString(),
			Encoding:     encoding,
		},
		partition:  s.router.PartitionFor(fileIdentity),
		digest:     blake3.New(),
		deliveries: make(chan kafka.Event, flushInterval),
	}

	scanner := bufio.NewScanner(text)
	initial := s.lineBufferSize
	if initial > 64*1024 {
		initial = 64 * 1024
	}
	scanner.Buffer(make([]byte, 0, initial), s.lineBufferSize)

	// One line of lookahead: a line is only published once we know whether another follows it
	var pending string
	havePending := false
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}
		if havePending {
			if err := run.publish(pending, false); err != nil {
				return run.result, err
			}
		}
		pending = scanner.Text()
		havePending = true
	}
	if err := scanner.Err(); err != nil {
		return run.result, fmt.Errorf("error reading %s/%s after %d lines: %w",
			s.bucket, fileIdentity, run.lineNumber, err)
	}
	if havePending {
		if err := run.publish(pending, true); err != nil {
			return run.result, err
		}
	}

	run.result.Bytes = bytesRead()

	if run.result.LinesPublished > 0 {
		if err := run.awaitDeliveries(); err != nil {
			return run.result, err
		}
	}

	return run.result, nil
}

// splitRun carries the state of one SplitAndPublish call
type splitRun struct {
	splitter   *Splitter
	result     *SplitResult
	partition  int32
	digest     *blake3.Hasher
	lineNumber int

	// delivery reports for this run only; at most flushInterval are outstanding
	deliveries  chan kafka.Event
	reported    int
	failed      int
	deliveryErr error
}

func (r *splitRun) publish(line string, last bool) error {
	s := r.splitter
	r.lineNumber++

	var msg *kafka.Message
	if s.format == FormatPlain {
		if line == "" {
			return nil
		}
		msg = s.plainMessage(line)
	} else {
		if r.lineNumber > 1 {
			r.digest.Write([]byte{'\n'})
		}
		r.digest.Write([]byte(line))

		var err error
		msg, err = r.taggedMessage(line, last)
		if err != nil {
			return err
		}
	}

	if err := s.producer.Produce(msg, r.deliveries); err != nil {
		log.Printf("⚠️ Failed to enqueue line %d of %s to partition %d: %v",
			r.lineNumber, r.result.FileIdentity, msg.TopicPartition.Partition, err)
		return fmt.Errorf("failed to produce line %d of %s: %w", r.lineNumber, r.result.FileIdentity, err)
	}
	r.result.LinesPublished++

	if s.debug {
		log.Printf("   📨 %s line %d -> partition %d (last=%t)", r.result.FileIdentity, r.lineNumber, msg.TopicPartition.Partition, last)
	}

	if r.result.LinesPublished%flushInterval == 0 {
		return r.awaitDeliveries()
	}
	return nil
}

// awaitDeliveries flushes the producer and collects the delivery report of
// every line published so far. Any line the broker rejected fails the run.
func (r *splitRun) awaitDeliveries() error {
	s := r.splitter
	if remaining := s.producer.Flush(s.flushTimeoutMs); remaining > 0 {
		return fmt.Errorf("%d messages not delivered for %s after flush at line %d",
			remaining, r.result.FileIdentity, r.lineNumber)
	}

	timeout := time.NewTimer(deliveryReportWait)
	defer timeout.Stop()
	for r.reported < r.result.LinesPublished {
		select {
		case ev := <-r.deliveries:
			r.record(ev)
		case <-timeout.C:
			return fmt.Errorf("missing %d delivery reports for %s",
				r.result.LinesPublished-r.reported, r.result.FileIdentity)
		}
	}

	if r.failed > 0 {
		return fmt.Errorf("%d of %d lines of %s failed delivery: %w",
			r.failed, r.result.LinesPublished, r.result.FileIdentity, r.deliveryErr)
	}
	return nil
}

func (r *splitRun) record(ev kafka.Event) {
	switch e := ev.(type) {
	case *kafka.Message:
		r.reported++
		if e.TopicPartition.Error != nil {
			r.failed++
			if r.deliveryErr == nil {
				r.deliveryErr = e.TopicPartition.Error
				log.Printf("❌ Delivery failed for %s at partition %d: %v",
					r.result.FileIdentity, e.TopicPartition.Partition, e.TopicPartition.Error)
			}
		}
	case kafka.Error:
		log.Printf("⚠️ Producer error while splitting %s: %v", r.result.FileIdentity, e)
	}
}

func (r *splitRun) taggedMessage(line string, last bool) (*kafka.Message, error) {
	s := r.splitter
	value, err := s.codec.Encode(events.LineMessage{
		FileName:    r.result.FileIdentity,
		LineContent: line,
		IsLastLine:  last,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode line %d of %s: %w", r.lineNumber, r.result.FileIdentity, err)
	}

	headers := []kafka.Header{
		{Key: events.HeaderContentType, Value: []byte(s.codec.ContentType())},
		{Key: events.HeaderSequenceID, Value: []byte(r.result.SequenceID)},
		{Key: events.HeaderLineNumber, Value: []byte(strconv.Itoa(r.lineNumber))},
	}
	if last {
		headers = append(headers, kafka.Header{
			Key:   events.HeaderContentDigest,
			Value: []byte(events.DigestPrefix + hex.EncodeToString(r.digest.Sum(nil))),
		})
	}

	topic := s.router.Topic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: r.partition},
		Key:            []byte(r.result.FileIdentity),
		Value:          value,
		Headers:        headers,
	}, nil
}

// plainMessage is the bare-line variant: no key, no envelope, one partition
func (s *Splitter) plainMessage(line string) *kafka.Message {
	topic := s.router.Topic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0},
		Value:          []byte(line),
	}
}
