package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/tail"
)

var (
	tailFile          string
	tailPartition     int
	tailTopics        []string
	tailFormat        string
	tailRaw           bool
	tailConsumerGroup string
	tailFromStart     bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print line messages and dead letters as they arrive",
	Long: `Consume the line topic, and the dead-letter topic when one is configured,
and print each message. Offsets are never committed.

Examples:
  # Everything on the line topic
  linepipe tail

  # One object, from the start of the topic
  linepipe tail --file report.txt --from-beginning

  # One partition as JSON
  linepipe tail --partition 3 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.RoleTools)
		if err != nil {
			return err
		}

		if tailFormat != tail.FormatText && tailFormat != tail.FormatJSON {
			return fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", tailFormat)
		}

		topics := tailTopics
		if len(topics) == 0 {
			topics = []string{cfg.Kafka.LinesTopic}
			if cfg.Kafka.DeadLetterTopic != "" {
				topics = append(topics, cfg.Kafka.DeadLetterTopic)
			}
		}

		cfg.Kafka.Consumer.AutoOffsetReset = "latest"
		if tailFromStart {
			cfg.Kafka.Consumer.AutoOffsetReset = "earliest"
		}

		consumer, err := (&broker.DefaultClientFactory{}).CreateConsumer(cfg.Kafka, tailConsumerGroup)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}

		tailer := tail.NewTailer(consumer, topics, tail.FilterOptions{
			FileName:     tailFile,
			Partition:    tailPartition,
			ShowRaw:      tailRaw,
			OutputFormat: tailFormat,
		}, os.Stdout)
		defer tailer.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return tailer.Start(ctx)
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailFile, "file", "", "only show messages for this file identity")
	tailCmd.Flags().IntVarP(&tailPartition, "partition", "p", -1, "only show this partition (-1 for all)")
	tailCmd.Flags().StringSliceVarP(&tailTopics, "topics", "t", nil, "topics to consume (default: line and dead-letter topics)")
	tailCmd.Flags().StringVarP(&tailFormat, "format", "f", tail.FormatText, "output format: text, json")
	tailCmd.Flags().BoolVar(&tailRaw, "raw", false, "show message headers")
	tailCmd.Flags().StringVarP(&tailConsumerGroup, "consumer-group", "g", "linepipe-tail", "Kafka consumer group ID")
	tailCmd.Flags().BoolVar(&tailFromStart, "from-beginning", false, "start from the earliest offset when the group has none")
}
