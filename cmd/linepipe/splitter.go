package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/splitter"
	"github.com/Log-Tools/linepipe/internal/storage"
)

var splitterCodec string

var splitterCmd = &cobra.Command{
	Use:   "splitter",
	Short: "Split objects named on the trigger topic into line messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.RoleSplitter, func(cfg *config.Config) {
			if splitterCodec != "" {
				cfg.Splitter.Codec = splitterCodec
			}
		})
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runSplitter(ctx, cfg, &broker.DefaultClientFactory{})
	},
}

func init() {
	splitterCmd.Flags().StringVar(&splitterCodec, "codec", "", "line message codec: json, cbor (overrides config)")
}

func runSplitter(ctx context.Context, cfg *config.Config, factory broker.ClientFactory) error {
	logStartup("Splitter", cfg)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	if err := storage.RequireBucket(ctx, store, cfg.Storage.InputBucket); err != nil {
		return err
	}
	log.Printf("✅ Input bucket %s is available", cfg.Storage.InputBucket)

	producer, err := connectProducer(ctx, factory, cfg)
	if err != nil {
		return err
	}

	consumer, err := factory.CreateConsumer(cfg.Kafka, cfg.Splitter.ConsumerGroup)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	spl, err := splitter.New(cfg, store, producer)
	if err != nil {
		consumer.Close()
		producer.Close()
		return err
	}

	svc := splitter.NewService(cfg, spl, consumer, broker.NewDeadLetterPublisher(producer, cfg.Kafka.DeadLetterTopic))
	defer svc.Close()

	return runWithHealth(ctx, cfg, svc.Run)
}
