package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/spf13/cobra"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/storage"
)

var (
	enqueueAll    bool
	enqueuePrefix string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file identity...]",
	Short: "Queue objects for splitting by publishing their names to the trigger topic",
	Long: `Publish one trigger per file identity to the trigger topic.
With --all or --prefix, file identities are listed from the input bucket.
Otherwise, with no arguments, they are read from stdin, one per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.RoleTools)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		names := args
		switch {
		case enqueueAll || enqueuePrefix != "":
			if len(args) > 0 {
				return fmt.Errorf("file identities cannot be combined with --all or --prefix")
			}
			store, err := storage.New(ctx, cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to create object store: %w", err)
			}
			names, err = listNames(ctx, store, cfg.Storage.InputBucket, enqueuePrefix)
			if err != nil {
				return err
			}
		case len(names) == 0:
			names, err = readNames(os.Stdin)
			if err != nil {
				return err
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("no file identities given")
		}

		producer, err := connectProducer(ctx, &broker.DefaultClientFactory{}, cfg)
		if err != nil {
			return err
		}
		defer producer.Close()

		sent, err := enqueueFiles(producer, cfg.Kafka.FilesTopic, names, cfg.Kafka.Producer.FlushTimeoutMs)
		log.Printf("📤 Queued %d of %d file(s) on %s", sent, len(names), cfg.Kafka.FilesTopic)
		return err
	},
}

func init() {
	enqueueCmd.Flags().BoolVar(&enqueueAll, "all", false, "queue every object in the input bucket")
	enqueueCmd.Flags().StringVar(&enqueuePrefix, "prefix", "", "queue every object in the input bucket under this prefix")
}

// listNames lists the input bucket the way a one-off scan would
func listNames(ctx context.Context, store storage.ObjectStore, bucket, prefix string) ([]string, error) {
	log.Printf("🔍 Scanning %s for prefix %q", bucket, prefix)
	objects, err := store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var total int64
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		names = append(names, obj.Key)
		total += obj.Size
	}
	log.Printf("📦 Found %d object(s) in %s (%s)", len(names), bucket, storage.FormatBytes(total))
	return names, nil
}

// readNames returns the non-blank lines of r
func readNames(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file identities: %w", err)
	}
	return names, nil
}

// enqueueFiles publishes one trigger per name and waits for delivery
func enqueueFiles(producer broker.Producer, topic string, names []string, flushTimeoutMs int) (int, error) {
	sent := 0
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		err := producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Value:          []byte(name),
		}, nil)
		if err != nil {
			return sent, fmt.Errorf("failed to queue %s: %w", name, err)
		}
		sent++
	}

	if remaining := producer.Flush(flushTimeoutMs); remaining > 0 {
		return sent - remaining, fmt.Errorf("%d trigger(s) not delivered to %s", remaining, topic)
	}
	return sent, nil
}

