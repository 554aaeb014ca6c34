package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/reassembler"
	"github.com/Log-Tools/linepipe/internal/storage"
)

var reassemblerPartition int

var reassemblerCmd = &cobra.Command{
	Use:   "reassembler",
	Short: "Rebuild objects from one partition of the line topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.RoleReassembler, func(cfg *config.Config) {
			if cmd.Flags().Changed("partition") {
				cfg.Reassembler.Partition = reassemblerPartition
			}
		})
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runReassembler(ctx, cfg, &broker.DefaultClientFactory{})
	},
}

func init() {
	reassemblerCmd.Flags().IntVarP(&reassemblerPartition, "partition", "p", -1, "partition of the line topic to own; -1 joins the consumer group (overrides config)")
}

func runReassembler(ctx context.Context, cfg *config.Config, factory broker.ClientFactory) error {
	logStartup("Reassembler", cfg)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	if err := storage.RequireBucket(ctx, store, cfg.Storage.OutputBucket); err != nil {
		return err
	}
	log.Printf("✅ Output bucket %s is available", cfg.Storage.OutputBucket)

	// The producer only carries dead letters
	var producer broker.Producer
	var deadLetters *broker.DeadLetterPublisher
	if cfg.Kafka.DeadLetterTopic != "" {
		producer, err = connectProducer(ctx, factory, cfg)
		if err != nil {
			return err
		}
		deadLetters = broker.NewDeadLetterPublisher(producer, cfg.Kafka.DeadLetterTopic)
	}

	consumer, err := factory.CreateConsumer(cfg.Kafka, cfg.Reassembler.ConsumerGroup)
	if err != nil {
		if producer != nil {
			producer.Close()
		}
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	if producer == nil {
		backoff := broker.BackoffFromConfig(cfg.Kafka.ConnectRetry)
		if err := broker.WaitForBroker(ctx, consumer, backoff, 5000); err != nil {
			consumer.Close()
			return fmt.Errorf("failed to connect to Kafka at %s: %w", cfg.Kafka.Brokers, err)
		}
	}

	svc := reassembler.NewService(cfg, reassembler.New(cfg, store, deadLetters), consumer, producer)
	defer svc.Close()

	return runWithHealth(ctx, cfg, svc.Run)
}
