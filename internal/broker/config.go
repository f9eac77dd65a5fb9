package broker

import (
	"fmt"
	"time"

	"github.com/gsakit-io/gsakit/internal/config"
)

// Default broker settings.
const (
	defaultTopicPrefix     = "gsa."
	defaultGroupPrefix     = "gsakit-"
	defaultMaxQueueLength  = 100
	defaultMaxMessageTries = 3
	defaultMaxDeliveries   = 3
	defaultPublishBackoff  = time.Second
)

// Config holds the broker settings.
type Config struct {
	// Brokers is the Kafka bootstrap address list.
	Brokers []string
	// TopicPrefix namespaces the queue topics ("gsa." + queue).
	TopicPrefix string
	// GroupPrefix namespaces the consumer groups ("gsakit-" + queue).
	GroupPrefix string
	// MaxQueueLength is the consumer-lag ceiling before publishes are
	// rejected with ErrQueueFull. 0 disables the check.
	MaxQueueLength int
	// MaxMessageTries bounds publish attempts against an unreachable broker.
	MaxMessageTries int
	// MaxDeliveries bounds redeliveries of a message before it is dropped.
	MaxDeliveries int
	// PublishBackoff is the pause between publish attempts.
	PublishBackoff time.Duration
}

// LoadConfig reads the broker configuration from the environment:
// KAFKA_BROKERS, KAFKA_TOPIC_PREFIX, MAX_QUEUE_LENGTH, MAX_MESSAGE_TRIES,
// MAX_DELIVERIES.
func LoadConfig() *Config {
	return &Config{
		Brokers:         config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		TopicPrefix:     config.GetEnvStr("KAFKA_TOPIC_PREFIX", defaultTopicPrefix),
		GroupPrefix:     config.GetEnvStr("KAFKA_GROUP_PREFIX", defaultGroupPrefix),
		MaxQueueLength:  config.GetEnvInt("MAX_QUEUE_LENGTH", defaultMaxQueueLength),
		MaxMessageTries: config.GetEnvInt("MAX_MESSAGE_TRIES", defaultMaxMessageTries),
		MaxDeliveries:   config.GetEnvInt("MAX_DELIVERIES", defaultMaxDeliveries),
		PublishBackoff:  config.GetEnvDuration("PUBLISH_BACKOFF", defaultPublishBackoff),
	}
}

// Topic returns the Kafka topic of a queue.
func (c *Config) Topic(queue string) string {
	return c.TopicPrefix + queue
}

// Group returns the consumer group of a queue.
func (c *Config) Group(queue string) string {
	return c.GroupPrefix + queue
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}

	if c.MaxMessageTries < 1 {
		return fmt.Errorf("MAX_MESSAGE_TRIES must be at least 1, got %d", c.MaxMessageTries)
	}

	if c.MaxDeliveries < 1 {
		return fmt.Errorf("MAX_DELIVERIES must be at least 1, got %d", c.MaxDeliveries)
	}

	if c.MaxQueueLength < 0 {
		return fmt.Errorf("MAX_QUEUE_LENGTH must not be negative, got %d", c.MaxQueueLength)
	}

	return nil
}
