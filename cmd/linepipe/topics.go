package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
)

var (
	topicFilePath string
	topicsDryRun  bool
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Create the trigger, line and dead-letter topics if missing",
	Long: `Create the Kafka topics linepipe needs. Topics are read from a YAML file
when --file is given, otherwise derived from the Kafka configuration.
Existing topics are left untouched, so partition counts are never changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.RoleTools)
		if err != nil {
			return err
		}

		tf := broker.DefaultTopics(cfg.Kafka)
		if topicFilePath != "" {
			tf, err = broker.LoadTopicFile(topicFilePath)
			if err != nil {
				return err
			}
		}
		if spec, ok := tf.Topics[cfg.Kafka.LinesTopic]; ok && spec.Partitions != cfg.Kafka.Partitions {
			log.Printf("⚠️  %s is declared with %d partitions but the config routes over %d",
				cfg.Kafka.LinesTopic, spec.Partitions, cfg.Kafka.Partitions)
		}

		if topicsDryRun {
			broker.DescribeTopics(os.Stdout, tf)
			return nil
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		admin, err := (&broker.DefaultClientFactory{}).CreateAdmin(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create admin client: %w", err)
		}
		defer admin.Close()

		summary, err := broker.EnsureTopics(ctx, admin, tf)
		if err != nil {
			return err
		}
		log.Printf("🎯 Topics: %d created, %d existing, %d failed", summary.Created, summary.Existing, summary.Failed)
		if summary.Failed > 0 {
			return fmt.Errorf("%d topic(s) could not be created", summary.Failed)
		}
		return nil
	},
}

func init() {
	topicsCmd.Flags().StringVarP(&topicFilePath, "file", "f", "", "topic definition YAML (default: derived from config)")
	topicsCmd.Flags().BoolVar(&topicsDryRun, "dry-run", false, "print the topics without contacting Kafka")
}
