// Package tail prints line messages and dead letters as they flow through
// the broker. It never commits offsets.
package tail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/events"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// FilterOptions represents filtering options for message display
type FilterOptions struct {
	FileName     string // exact file identity; empty shows all files
	Partition    int    // -1 shows all partitions
	ShowRaw      bool
	OutputFormat string
}

// Record is one displayed message
type Record struct {
	Topic      string              `json:"topic"`
	Partition  int32               `json:"partition"`
	Offset     int64               `json:"offset"`
	Timestamp  time.Time           `json:"timestamp"`
	Headers    map[string]string   `json:"headers,omitempty"`
	Line       *events.LineMessage `json:"line,omitempty"`
	DeadLetter *events.DeadLetter  `json:"dead_letter,omitempty"`
	Raw        string              `json:"raw,omitempty"`
}

// Tailer consumes topics and writes matching messages to out
type Tailer struct {
	consumer      broker.Consumer
	topics        []string
	opts          FilterOptions
	out           io.Writer
	pollTimeoutMs int
}

// NewTailer creates a tailer writing to out
func NewTailer(consumer broker.Consumer, topics []string, opts FilterOptions, out io.Writer) *Tailer {
	if opts.OutputFormat == "" {
		opts.OutputFormat = FormatText
	}
	return &Tailer{consumer: consumer, topics: topics, opts: opts, out: out, pollTimeoutMs: 1000}
}

// Start consumes until ctx is cancelled
func (t *Tailer) Start(ctx context.Context) error {
	if err := t.consumer.Subscribe(t.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	fmt.Fprintf(t.out, "🚀 Tailing %s\n", strings.Join(t.topics, ", "))
	if t.opts.FileName != "" {
		fmt.Fprintf(t.out, "📋 File filter: %s\n", t.opts.FileName)
	}
	if t.opts.Partition >= 0 {
		fmt.Fprintf(t.out, "🧩 Partition filter: %d\n", t.opts.Partition)
	}
	fmt.Fprintln(t.out, "---")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out, "\n🛑 Shutting down tail...")
			return nil
		default:
		}

		msg, err := t.consumer.ReadMessage(t.pollTimeoutMs)
		if err != nil {
			if broker.IsTimeout(err) {
				continue
			}
			if broker.IsFatal(err) {
				return fmt.Errorf("fatal consumer error: %w", err)
			}
			log.Printf("❌ Consumer error: %v", err)
			continue
		}

		record := toRecord(msg)
		if t.shouldDisplay(record) {
			t.display(record)
		}
	}
}

func toRecord(msg *kafka.Message) Record {
	record := Record{
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Timestamp: msg.Timestamp,
		Headers:   make(map[string]string),
	}
	if msg.TopicPartition.Topic != nil {
		record.Topic = *msg.TopicPartition.Topic
	}
	for _, h := range msg.Headers {
		record.Headers[h.Key] = string(h.Value)
	}

	if record.Headers[events.HeaderEventType] == events.DeadLetterEventType {
		var dl events.DeadLetter
		if err := json.Unmarshal(msg.Value, &dl); err == nil {
			record.DeadLetter = &dl
			return record
		}
	}

	codec, err := events.CodecFor(record.Headers[events.HeaderContentType])
	if err == nil {
		if line, err := codec.Decode(msg.Value); err == nil {
			record.Line = &line
			return record
		}
	}

	record.Raw = string(msg.Value)
	return record
}

// fileName is the file identity a record belongs to, if known
func (r Record) fileName() string {
	switch {
	case r.Line != nil:
		return r.Line.FileName
	case r.DeadLetter != nil:
		return r.DeadLetter.FileName
	}
	return ""
}

func (t *Tailer) shouldDisplay(r Record) bool {
	if t.opts.Partition >= 0 && r.Partition != int32(t.opts.Partition) {
		return false
	}
	if t.opts.FileName != "" && r.fileName() != t.opts.FileName {
		return false
	}
	return true
}

func (t *Tailer) display(r Record) {
	if t.opts.OutputFormat == FormatJSON {
		if !t.opts.ShowRaw {
			r.Headers = nil
		}
		data, _ := json.Marshal(r)
		fmt.Fprintln(t.out, string(data))
		return
	}

	where := fmt.Sprintf("%s[%d]@%d", r.Topic, r.Partition, r.Offset)
	timeStr := r.Timestamp.Format("15:04:05")

	switch {
	case r.Line != nil:
		marker := "📝"
		if r.Line.IsLastLine {
			marker = "🏁"
		}
		number := r.Headers[events.HeaderLineNumber]
		if number == "" {
			number = "?"
		}
		fmt.Fprintf(t.out, "🕐 %s | %s %s | %s #%s | %s\n", timeStr, marker, where, r.Line.FileName, number, r.Line.LineContent)
	case r.DeadLetter != nil:
		fmt.Fprintf(t.out, "🕐 %s | ☠️  %s | %s | %s (%s): %s\n",
			timeStr, where, r.DeadLetter.FileName, r.DeadLetter.Reason, r.DeadLetter.Source, r.DeadLetter.Error)
	default:
		fmt.Fprintf(t.out, "🕐 %s | ❓ %s | %s\n", timeStr, where, r.Raw)
	}

	if t.opts.ShowRaw && len(r.Headers) > 0 {
		for _, key := range sortedKeys(r.Headers) {
			fmt.Fprintf(t.out, "      %s: %s\n", key, r.Headers[key])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes the Kafka consumer
func (t *Tailer) Close() error {
	return t.consumer.Close()
}
