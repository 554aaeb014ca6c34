package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Log-Tools/linepipe/internal/broker"
	"github.com/Log-Tools/linepipe/internal/config"
	"github.com/Log-Tools/linepipe/internal/health"
)

var (
	configPath   string
	kafkaBrokers string
	logLevel     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linepipe",
	Short: "Split stored text objects into line messages and reassemble them",
	Long: `linepipe moves text objects through Kafka one line at a time.

The splitter downloads each object named on the trigger topic and publishes
its lines, in order, to a partitioned line topic. Every line of an object
lands on the same partition. A reassembler owns one partition, buffers lines
per object and uploads the rebuilt object once the terminal line arrives.

Examples:
  # Run a splitter against a config file
  linepipe splitter --config configs/linepipe.yaml

  # Run the reassembler that owns partition 3
  linepipe reassembler --config configs/linepipe.yaml --partition 3

  # Create the topics, then queue two objects
  linepipe topics --file configs/topics.yaml
  linepipe enqueue report.txt access.log.gz

  # Watch one object pass through
  linepipe tail --file report.txt`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	addConnectionFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(splitterCmd)
	rootCmd.AddCommand(reassemblerCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(tailCmd)
}

func addConnectionFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "config file path (default: environment only)")
	fs.StringVar(&kafkaBrokers, "brokers", "", "Kafka brokers (overrides config)")
	fs.StringVar(&logLevel, "log-level", "", "log level: info, debug (overrides config)")
}

// loadConfig reads the config file if one was given, else the environment,
// then applies command line overrides and validates for role
func loadConfig(role string, overrides ...func(*config.Config)) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadConfigFromFile(configPath)
	} else {
		cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if kafkaBrokers != "" {
		cfg.Kafka.Brokers = kafkaBrokers
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(role); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// runWithHealth runs a service loop next to the liveness endpoint. A failing
// service loop stops the endpoint; a failing endpoint is only logged.
func runWithHealth(ctx context.Context, cfg *config.Config, run func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := health.NewServer(cfg.Health.Address).Run(gctx); err != nil {
			log.Printf("❌ Health endpoint failed: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		return run(gctx)
	})
	return g.Wait()
}

// connectProducer creates a producer, starts draining its delivery reports
// and waits for the cluster to answer
func connectProducer(ctx context.Context, factory broker.ClientFactory, cfg *config.Config) (broker.Producer, error) {
	producer, err := factory.CreateProducer(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	go broker.LogDeliveryEvents(producer.Events())

	backoff := broker.BackoffFromConfig(cfg.Kafka.ConnectRetry)
	if err := broker.WaitForBroker(ctx, producer, backoff, 5000); err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to connect to Kafka at %s: %w", cfg.Kafka.Brokers, err)
	}
	return producer, nil
}

func logStartup(name string, cfg *config.Config) {
	log.Printf("🔧 %s configuration: brokers=%s, files_topic=%s, lines_topic=%s, partitions=%d, storage=%s",
		name, cfg.Kafka.Brokers, cfg.Kafka.FilesTopic, cfg.Kafka.LinesTopic, cfg.Kafka.Partitions, cfg.Storage.Backend)
	if cfg.Kafka.DeadLetterTopic != "" {
		log.Printf("☠️  Dead letters go to %s", cfg.Kafka.DeadLetterTopic)
	}
}
