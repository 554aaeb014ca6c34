package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Placeholder used for required settings that are missing from the environment.
// It keeps the process starting so the failure surfaces at the client, with a
// recognisable value in the logs.
const MissingValue = "variable does not exist"

// Roles a process can run as. Validation differs slightly per role.
const (
	RoleSplitter    = "splitter"
	RoleReassembler = "reassembler"
	RoleTools       = "tools"
)

// Config represents the linepipe configuration shared by all roles
type Config struct {
	Kafka       KafkaConfig       `yaml:"kafka"`
	Storage     StorageConfig     `yaml:"storage"`
	Splitter    SplitterConfig    `yaml:"splitter"`
	Reassembler ReassemblerConfig `yaml:"reassembler"`
	Health      HealthConfig      `yaml:"health"`

	// Logging configuration: "debug" enables per-line logging
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" default:"info"`
}

// KafkaConfig contains Kafka connection and topic settings
type KafkaConfig struct {
	Brokers string `yaml:"brokers" env:"KAFKA_BROKERS"`

	// Trigger topic: one message per object to split, body is the bare file identity
	FilesTopic string `yaml:"files_topic" env:"KAFKA_FILES_TOPIC" default:"files"`

	// Partitioned line topic keyed by file identity
	LinesTopic string `yaml:"lines_topic" env:"KAFKA_LINES_TOPIC" default:"queue"`

	// Optional dead-letter topic; empty disables dead-lettering
	DeadLetterTopic string `yaml:"dead_letter_topic" env:"KAFKA_DEAD_LETTER_TOPIC"`

	// Number of partitions of the line topic. Must match the deployed topic.
	Partitions int `yaml:"partitions" env:"KAFKA_PARTITIONS" default:"12"`

	// Number of partitions of the trigger topic (used by `linepipe topics`)
	FilesPartitions int `yaml:"files_partitions" env:"KAFKA_FILES_PARTITIONS" default:"1"`

	// How long a single ReadMessage call blocks
	PollTimeoutMs int `yaml:"poll_timeout_ms" env:"KAFKA_POLL_TIMEOUT_MS" default:"1000"`

	Producer     ProducerConfig `yaml:"producer"`
	Consumer     ConsumerConfig `yaml:"consumer"`
	ConnectRetry RetryConfig    `yaml:"connect_retry"`
}

// ProducerConfig contains Kafka producer settings
type ProducerConfig struct {
	Acks           string `yaml:"acks" env:"KAFKA_PRODUCER_ACKS" default:"all"`
	FlushTimeoutMs int    `yaml:"flush_timeout_ms" env:"KAFKA_PRODUCER_FLUSH_TIMEOUT_MS" default:"30000"`
}

// ConsumerConfig contains Kafka consumer settings
type ConsumerConfig struct {
	AutoOffsetReset string `yaml:"auto_offset_reset" env:"KAFKA_CONSUMER_AUTO_OFFSET_RESET" default:"earliest"`
}

// RetryConfig is the bounded exponential backoff used while waiting for the broker at startup
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" env:"KAFKA_CONNECT_INITIAL_DELAY" default:"1s"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"KAFKA_CONNECT_MAX_DELAY" default:"30s"`
	Multiplier   float64       `yaml:"multiplier" env:"KAFKA_CONNECT_MULTIPLIER" default:"2"`
	// MaxAttempts of 0 retries until the context is cancelled
	MaxAttempts int `yaml:"max_attempts" env:"KAFKA_CONNECT_MAX_ATTEMPTS" default:"10"`
}

// StorageConfig selects and configures the object store backend
type StorageConfig struct {
	Backend      string      `yaml:"backend" env:"STORAGE_BACKEND" default:"s3"`
	InputBucket  string      `yaml:"input_bucket" env:"INPUT_BUCKET" default:"haorui-files-storage"`
	OutputBucket string      `yaml:"output_bucket" env:"OUTPUT_BUCKET" default:"haorui-output-files"`
	S3           S3Config    `yaml:"s3"`
	Azure        AzureConfig `yaml:"azure"`
}

// S3Config configures an S3 compatible endpoint (AWS, MinIO)
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Region    string `yaml:"region" env:"S3_REGION"`
	// Insecure switches a scheme-less endpoint to plain http
	Insecure bool `yaml:"insecure" env:"S3_INSECURE" default:"false"`
}

// AzureConfig configures an Azure Storage account
type AzureConfig struct {
	AccountName string `yaml:"account_name" env:"AZURE_STORAGE_ACCOUNT"`
	AccessKey   string `yaml:"access_key" env:"AZURE_STORAGE_KEY"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/ (e.g. Azurite)
	ServiceURL string `yaml:"service_url" env:"AZURE_STORAGE_SERVICE_URL"`
}

// SplitterConfig contains splitter settings
type SplitterConfig struct {
	ConsumerGroup string `yaml:"consumer_group" env:"SPLITTER_CONSUMER_GROUP" default:"linepipe-splitter"`

	// "tagged" (partitioned, terminal flag) or "plain" (bare lines, single partition)
	Format string `yaml:"format" env:"SPLITTER_FORMAT" default:"tagged"`

	// "json" or "cbor"
	Codec string `yaml:"codec" env:"SPLITTER_CODEC" default:"json"`

	// Maximum line length accepted by the scanner
	LineBufferSize int `yaml:"line_buffer_size" env:"LINE_BUFFER_SIZE" default:"1048576"`
}

// ReassemblerConfig contains reassembler settings
type ReassemblerConfig struct {
	ConsumerGroup string `yaml:"consumer_group" env:"REASSEMBLER_CONSUMER_GROUP" default:"linepipe-reassembler"`

	// Partition of the line topic owned by this instance; -1 joins the consumer group instead
	Partition int `yaml:"partition" env:"REASSEMBLER_PARTITION" default:"-1"`

	// Open buffers idle for longer than this are reported in the logs
	StaleAfter time.Duration `yaml:"stale_after" env:"REASSEMBLER_STALE_AFTER" default:"10m"`
}

// HealthConfig contains liveness endpoint settings
type HealthConfig struct {
	// Listen address; empty disables the endpoint
	Address string `yaml:"address" env:"HEALTH_ADDRESS" default:":8080"`
}

// Validate validates the configuration for the given role
func (c *Config) Validate(role string) error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch role {
	case RoleSplitter:
		return c.validateSplitter()
	case RoleReassembler:
		return c.validateReassembler()
	case RoleTools:
		return nil
	default:
		return fmt.Errorf("invalid role %q, must be '%s', '%s' or '%s'", role, RoleSplitter, RoleReassembler, RoleTools)
	}
}

// validateCommon validates settings every role depends on
func (c *Config) validateCommon() error {
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka brokers are required")
	}
	if c.Kafka.FilesTopic == "" {
		return fmt.Errorf("files_topic is required")
	}
	if c.Kafka.LinesTopic == "" {
		return fmt.Errorf("lines_topic is required")
	}
	if c.Kafka.Partitions <= 0 {
		return fmt.Errorf("partitions must be positive")
	}
	if c.Kafka.FilesPartitions <= 0 {
		return fmt.Errorf("files_partitions must be positive")
	}
	if c.Kafka.PollTimeoutMs <= 0 {
		return fmt.Errorf("poll_timeout_ms must be positive")
	}
	if c.Kafka.ConnectRetry.Multiplier < 1 {
		return fmt.Errorf("connect_retry.multiplier must be at least 1")
	}
	if c.Kafka.ConnectRetry.MaxAttempts < 0 {
		return fmt.Errorf("connect_retry.max_attempts cannot be negative")
	}

	switch c.Storage.Backend {
	case "s3", "azure":
	default:
		return fmt.Errorf("invalid storage backend %q, must be 's3' or 'azure'", c.Storage.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level '%s'. Valid levels: debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func (c *Config) validateSplitter() error {
	if c.Storage.InputBucket == "" {
		return fmt.Errorf("splitter requires input_bucket")
	}
	if c.Splitter.ConsumerGroup == "" {
		return fmt.Errorf("splitter requires consumer_group")
	}
	switch c.Splitter.Format {
	case "tagged", "plain":
	default:
		return fmt.Errorf("invalid splitter format %q, must be 'tagged' or 'plain'", c.Splitter.Format)
	}
	switch c.Splitter.Codec {
	case "json", "cbor":
	default:
		return fmt.Errorf("invalid splitter codec %q, must be 'json' or 'cbor'", c.Splitter.Codec)
	}
	if c.Splitter.LineBufferSize <= 0 {
		return fmt.Errorf("line_buffer_size must be positive")
	}
	return nil
}

func (c *Config) validateReassembler() error {
	if c.Storage.OutputBucket == "" {
		return fmt.Errorf("reassembler requires output_bucket")
	}
	if c.Reassembler.ConsumerGroup == "" {
		return fmt.Errorf("reassembler requires consumer_group")
	}
	if c.Reassembler.Partition < -1 || c.Reassembler.Partition >= c.Kafka.Partitions {
		return fmt.Errorf("reassembler partition must be -1 or between 0 and partitions-1 (%d)", c.Kafka.Partitions-1)
	}
	if c.Reassembler.StaleAfter < 0 {
		return fmt.Errorf("stale_after cannot be negative")
	}
	return nil
}

// LoadConfigFromFile loads configuration from a YAML file. Environment
// variables that are set take precedence over file values.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables with defaults
func LoadConfigFromEnv() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Kafka: KafkaConfig{
			FilesTopic:      "files",
			LinesTopic:      "queue",
			Partitions:      12,
			FilesPartitions: 1,
			PollTimeoutMs:   1000,
			Producer: ProducerConfig{
				Acks:           "all",
				FlushTimeoutMs: 30000,
			},
			Consumer: ConsumerConfig{
				AutoOffsetReset: "earliest",
			},
			ConnectRetry: RetryConfig{
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2,
				MaxAttempts:  10,
			},
		},
		Storage: StorageConfig{
			Backend:      "s3",
			InputBucket:  "haorui-files-storage",
			OutputBucket: "haorui-output-files",
		},
		Splitter: SplitterConfig{
			ConsumerGroup:  "linepipe-splitter",
			Format:         "tagged",
			Codec:          "json",
			LineBufferSize: 1048576,
		},
		Reassembler: ReassemblerConfig{
			ConsumerGroup: "linepipe-reassembler",
			Partition:     -1,
			StaleAfter:    10 * time.Minute,
		},
		Health: HealthConfig{
			Address: ":8080",
		},
	}
}

// applyEnv overrides fields for every environment variable that is set
func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.FilesTopic = getEnv("KAFKA_FILES_TOPIC", cfg.Kafka.FilesTopic)
	cfg.Kafka.LinesTopic = getEnv("KAFKA_LINES_TOPIC", cfg.Kafka.LinesTopic)
	cfg.Kafka.DeadLetterTopic = getEnv("KAFKA_DEAD_LETTER_TOPIC", cfg.Kafka.DeadLetterTopic)
	cfg.Kafka.Partitions = parseIntEnv("KAFKA_PARTITIONS", cfg.Kafka.Partitions)
	cfg.Kafka.FilesPartitions = parseIntEnv("KAFKA_FILES_PARTITIONS", cfg.Kafka.FilesPartitions)
	cfg.Kafka.PollTimeoutMs = parseIntEnv("KAFKA_POLL_TIMEOUT_MS", cfg.Kafka.PollTimeoutMs)
	cfg.Kafka.Producer.Acks = getEnv("KAFKA_PRODUCER_ACKS", cfg.Kafka.Producer.Acks)
	cfg.Kafka.Producer.FlushTimeoutMs = parseIntEnv("KAFKA_PRODUCER_FLUSH_TIMEOUT_MS", cfg.Kafka.Producer.FlushTimeoutMs)
	cfg.Kafka.Consumer.AutoOffsetReset = getEnv("KAFKA_CONSUMER_AUTO_OFFSET_RESET", cfg.Kafka.Consumer.AutoOffsetReset)
	cfg.Kafka.ConnectRetry.InitialDelay = parseDurationEnv("KAFKA_CONNECT_INITIAL_DELAY", cfg.Kafka.ConnectRetry.InitialDelay)
	cfg.Kafka.ConnectRetry.MaxDelay = parseDurationEnv("KAFKA_CONNECT_MAX_DELAY", cfg.Kafka.ConnectRetry.MaxDelay)
	cfg.Kafka.ConnectRetry.Multiplier = parseFloatEnv("KAFKA_CONNECT_MULTIPLIER", cfg.Kafka.ConnectRetry.Multiplier)
	cfg.Kafka.ConnectRetry.MaxAttempts = parseIntEnv("KAFKA_CONNECT_MAX_ATTEMPTS", cfg.Kafka.ConnectRetry.MaxAttempts)

	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.InputBucket = getEnv("INPUT_BUCKET", cfg.Storage.InputBucket)
	cfg.Storage.OutputBucket = getEnv("OUTPUT_BUCKET", cfg.Storage.OutputBucket)
	cfg.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.S3.Endpoint)
	cfg.Storage.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.Region = getEnv("S3_REGION", cfg.Storage.S3.Region)
	cfg.Storage.S3.Insecure = parseBoolEnv("S3_INSECURE", cfg.Storage.S3.Insecure)
	cfg.Storage.Azure.AccountName = getEnv("AZURE_STORAGE_ACCOUNT", cfg.Storage.Azure.AccountName)
	cfg.Storage.Azure.AccessKey = getEnv("AZURE_STORAGE_KEY", cfg.Storage.Azure.AccessKey)
	cfg.Storage.Azure.ServiceURL = getEnv("AZURE_STORAGE_SERVICE_URL", cfg.Storage.Azure.ServiceURL)

	cfg.Splitter.ConsumerGroup = getEnv("SPLITTER_CONSUMER_GROUP", cfg.Splitter.ConsumerGroup)
	cfg.Splitter.Format = getEnv("SPLITTER_FORMAT", cfg.Splitter.Format)
	cfg.Splitter.Codec = getEnv("SPLITTER_CODEC", cfg.Splitter.Codec)
	cfg.Splitter.LineBufferSize = parseIntEnv("LINE_BUFFER_SIZE", cfg.Splitter.LineBufferSize)

	cfg.Reassembler.ConsumerGroup = getEnv("REASSEMBLER_CONSUMER_GROUP", cfg.Reassembler.ConsumerGroup)
	cfg.Reassembler.Partition = parseIntEnv("REASSEMBLER_PARTITION", cfg.Reassembler.Partition)
	cfg.Reassembler.StaleAfter = parseDurationEnv("REASSEMBLER_STALE_AFTER", cfg.Reassembler.StaleAfter)

	cfg.Health.Address = getEnv("HEALTH_ADDRESS", cfg.Health.Address)
}

// applyDefaults fills values that must never be empty. Missing credentials
// become MissingValue rather than failing here.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = MissingValue
	}
	if cfg.Kafka.FilesTopic == "" {
		cfg.Kafka.FilesTopic = "files"
	}
	if cfg.Kafka.LinesTopic == "" {
		cfg.Kafka.LinesTopic = "queue"
	}
	if cfg.Kafka.Partitions == 0 {
		cfg.Kafka.Partitions = 12
	}
	if cfg.Kafka.FilesPartitions == 0 {
		cfg.Kafka.FilesPartitions = 1
	}
	if cfg.Kafka.PollTimeoutMs == 0 {
		cfg.Kafka.PollTimeoutMs = 1000
	}
	if cfg.Kafka.Producer.Acks == "" {
		cfg.Kafka.Producer.Acks = "all"
	}
	if cfg.Kafka.Producer.FlushTimeoutMs == 0 {
		cfg.Kafka.Producer.FlushTimeoutMs = 30000
	}
	if cfg.Kafka.Consumer.AutoOffsetReset == "" {
		cfg.Kafka.Consumer.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.ConnectRetry.InitialDelay == 0 {
		cfg.Kafka.ConnectRetry.InitialDelay = 1 * time.Second
	}
	if cfg.Kafka.ConnectRetry.MaxDelay == 0 {
		cfg.Kafka.ConnectRetry.MaxDelay = 30 * time.Second
	}
	if cfg.Kafka.ConnectRetry.Multiplier == 0 {
		cfg.Kafka.ConnectRetry.Multiplier = 2
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "s3"
	}
	switch cfg.Storage.Backend {
	case "s3":
		if cfg.Storage.S3.Endpoint == "" {
			cfg.Storage.S3.Endpoint = MissingValue
		}
		if cfg.Storage.S3.AccessKey == "" {
			cfg.Storage.S3.AccessKey = MissingValue
		}
		if cfg.Storage.S3.SecretKey == "" {
			cfg.Storage.S3.SecretKey = MissingValue
		}
	case "azure":
		if cfg.Storage.Azure.AccountName == "" {
			cfg.Storage.Azure.AccountName = MissingValue
		}
		if cfg.Storage.Azure.AccessKey == "" {
			cfg.Storage.Azure.AccessKey = MissingValue
		}
	}

	if cfg.Splitter.LineBufferSize == 0 {
		cfg.Splitter.LineBufferSize = 1048576 // 1MB
	}
	if cfg.Splitter.Format == "" {
		cfg.Splitter.Format = "tagged"
	}
	if cfg.Splitter.Codec == "" {
		cfg.Splitter.Codec = "json"
	}
}

// Helper functions for parsing environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return defaultValue
}
