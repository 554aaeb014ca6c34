// Package reassembler rebuilds objects from the line messages of one
// partition and uploads them to the output bucket.
package reassembler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/events"
	"github.com/Log-Tools/linepipe/internal/storage"
)

// Stats counts handled messages
type Stats struct {
	Messages         int64
	Flushes          int64
	Malformed        int64
	UploadFailures   int64
	DigestMismatches int64
	Panics           int64
}

// Reassembler owns the buffer of one consumer loop
type Reassembler struct {
	store       storage.ObjectStore
	buffer      *Buffer
	bucket      string
	deadLetters *broker.DeadLetterPublisher
	stats       Stats
	debug       bool
}

// New creates a reassembler uploading to the configured output bucket
func New(cfg *config.Config, store storage.ObjectStore, deadLetters *broker.DeadLetterPublisher) *Reassembler {
	return &Reassembler{
		store:       store,
		buffer:      NewBuffer(),
		bucket:      cfg.Storage.OutputBucket,
		deadLetters: deadLetters,
		debug:       cfg.LogLevel == "debug",
	}
}

// Buffer exposes the open entries
func (r *Reassembler) Buffer() *Buffer {
	return r.buffer
}

// Stats returns a copy of the counters
func (r *Reassembler) Stats() Stats {
	return r.stats
}

// Handle applies one line message. It never fails: undecodable messages are
// dropped and upload failures leave the entry in place. Either way the caller
// acknowledges the message afterwards.
func (r *Reassembler) Handle(ctx context.Context, msg *kafka.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.Panics++
			log.Printf("❌ Panic while handling message at %v: %v", msg.TopicPartition, rec)
			r.deadLetter(string(msg.Key), events.ReasonHandlerPanic, fmt.Errorf("panic: %v", rec), msg.Value)
		}
	}()

	r.stats.Messages++

	line, err := decode(msg)
	if err != nil {
		r.stats.Malformed++
		log.Printf("⚠️ Dropping malformed message at %v: %v", msg.TopicPartition, err)
		r.deadLetter(string(msg.Key), events.ReasonMalformed, err, msg.Value)
		return
	}

	sequenceID, _ := broker.HeaderValue(msg.Headers, events.HeaderSequenceID)
	count, mixed := r.buffer.Append(line.FileName, line.LineContent, sequenceID)
	if mixed {
		log.Printf("⚠️ %q receives lines from sequence %s on top of an unfinished earlier sequence", line.FileName, sequenceID)
	}
	if r.debug {
		log.Printf("   📨 %q line %d (last=%t)", line.FileName, count, line.IsLastLine)
	}

	if !line.IsLastLine {
		return
	}

	digest, _ := broker.HeaderValue(msg.Headers, events.HeaderContentDigest)
	r.flush(ctx, line.FileName, digest)
}

func decode(msg *kafka.Message) (events.LineMessage, error) {
	contentType, _ := broker.HeaderValue(msg.Headers, events.HeaderContentType)
	codec, err := events.CodecFor(contentType)
	if err != nil {
		return events.LineMessage{}, err
	}
	return codec.Decode(msg.Value)
}

// flush uploads the joined entry and deletes it. On failure the entry stays.
func (r *Reassembler) flush(ctx context.Context, fileIdentity, digest string) {
	content := r.buffer.Join(fileIdentity)
	lines := len(r.buffer.Lines(fileIdentity))

	if digest != "" && events.Digest(content) != digest {
		r.stats.DigestMismatches++
		log.Printf("⚠️ Content digest mismatch for %q (%d lines); uploading anyway", fileIdentity, lines)
	}

	start := time.Now()
	if err := r.store.Put(ctx, r.bucket, fileIdentity, content, storage.ContentTypeText); err != nil {
		r.stats.UploadFailures++
		log.Printf("❌ Failed to upload %q to %s (%d lines kept in buffer): %v", fileIdentity, r.bucket, lines, err)
		r.deadLetter(fileIdentity, events.ReasonUploadFailed, err, content)
		return
	}

	r.buffer.Delete(fileIdentity)
	r.stats.Flushes++
	log.Printf("✅ Reassembled %q: %d lines, %s uploaded to %s in %s",
		fileIdentity, lines, storage.FormatBytes(int64(len(content))), r.bucket, time.Since(start).Round(time.Millisecond))
}

func (r *Reassembler) deadLetter(fileIdentity, reason string, cause error, payload []byte) {
	if !r.deadLetters.Enabled() {
		return
	}
	err := r.deadLetters.Publish(events.DeadLetter{
		FileName:  fileIdentity,
		Reason:    reason,
		Error:     cause.Error(),
		Payload:   payload,
		Source:    "reassembler",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️ Dead letter for %q not recorded: %v", fileIdentity, err)
	}
}
