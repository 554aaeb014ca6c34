package broker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"gopkg.in/yaml.v3"

	"github.com/Log-Tools/linepipe/internal/config"
)

// TopicSpec represents configuration for a single Kafka topic read from YAML
type TopicSpec struct {
	Partitions        int                    `yaml:"partitions"`
	ReplicationFactor int                    `yaml:"replication.factor"`
	CleanupPolicy     string                 `yaml:"cleanup.policy"`
	Other             map[string]interface{} `yaml:",inline"`
}

// TopicFile is the topic provisioning document
type TopicFile struct {
	Topics map[string]TopicSpec `yaml:"topics"`
}

// TopicSummary counts the outcome of EnsureTopics
type TopicSummary struct {
	Created  int
	Existing int
	Failed   int
}

// LoadTopicFile reads a topic provisioning document
func LoadTopicFile(path string) (*TopicFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var tf TopicFile
	if err := yaml.Unmarshal(content, &tf); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return &tf, nil
}

// DefaultTopics derives the topic set from the Kafka configuration: the
// trigger topic, the partitioned line topic and, when set, the dead-letter topic.
func DefaultTopics(cfg config.KafkaConfig) *TopicFile {
	tf := &TopicFile{Topics: map[string]TopicSpec{
		cfg.FilesTopic: {Partitions: cfg.FilesPartitions, CleanupPolicy: "delete"},
		cfg.LinesTopic: {Partitions: cfg.Partitions, CleanupPolicy: "delete"},
	}}
	if cfg.DeadLetterTopic != "" {
		tf.Topics[cfg.DeadLetterTopic] = TopicSpec{Partitions: 1, CleanupPolicy: "delete"}
	}
	return tf
}

// Names returns topic names in sorted order
func (tf *TopicFile) Names() []string {
	names := make([]string, 0, len(tf.Topics))
	for name := range tf.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specifications converts the document to admin client topic specifications
func (tf *TopicFile) Specifications() []kafka.TopicSpecification {
	var specs []kafka.TopicSpecification
	for _, name := range tf.Names() {
		t := tf.Topics[name]
		cfg := map[string]string{}
		if t.CleanupPolicy != "" {
			cfg["cleanup.policy"] = t.CleanupPolicy
		}

		// Copy other configurations
		for k, v := range t.Other {
			cfg[k] = fmt.Sprint(v)
		}

		replication := t.ReplicationFactor
		if replication <= 0 {
			replication = 1
		}

		specs = append(specs, kafka.TopicSpecification{
			Topic:             name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: replication,
			Config:            cfg,
		})
	}
	return specs
}

// DescribeTopics writes the dry-run listing
func DescribeTopics(w io.Writer, tf *TopicFile) {
	fmt.Fprintf(w, "🔍 Dry run mode - would create/verify %d topic(s):\n", len(tf.Topics))
	for _, spec := range tf.Specifications() {
		fmt.Fprintf(w, "   📋 %s (partitions: %d, replication: %d, cleanup: %s)\n",
			spec.Topic, spec.NumPartitions, spec.ReplicationFactor, spec.Config["cleanup.policy"])
	}
}

// EnsureTopics creates missing topics. Topics that already exist are left untouched.
func EnsureTopics(ctx context.Context, admin Admin, tf *TopicFile) (TopicSummary, error) {
	var summary TopicSummary
	specs := tf.Specifications()
	if len(specs) == 0 {
		log.Printf("⚠️  No topics defined")
		return summary, nil
	}

	results, err := admin.CreateTopics(ctx, specs, kafka.SetAdminOperationTimeout(30*time.Second))
	if err != nil {
		return summary, fmt.Errorf("CreateTopics request failed: %w", err)
	}

	for _, res := range results {
		switch res.Error.Code() {
		case kafka.ErrTopicAlreadyExists:
			log.Printf("✓ %s already exists", res.Topic)
			summary.Existing++
		case kafka.ErrNoError:
			log.Printf("✓ created %s", res.Topic)
			summary.Created++
		default:
			log.Printf("✗ %s: %v", res.Topic, res.Error)
			summary.Failed++
		}
	}

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d topic(s) could not be created", summary.Failed)
	}
	return summary, nil
}
