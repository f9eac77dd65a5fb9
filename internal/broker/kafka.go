package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// attemptsHeader carries the delivery count across redeliveries. Kafka has no
// native per-message delivery counter, so retries are modeled as republishes
// with an incremented header followed by a commit of the original message.
const attemptsHeader = "x-delivery-attempts"

// KafkaBroker implements Broker on Kafka via segmentio/kafka-go.
type KafkaBroker struct {
	cfg    *Config
	logger *slog.Logger
	client *kafka.Client

	// writers holds one lazily created writer per topic
	writers map[string]*kafka.Writer
	mutex   sync.Mutex
}

// NewKafkaBroker creates a Kafka-backed broker.
func NewKafkaBroker(cfg *Config, logger *slog.Logger) (*KafkaBroker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaBroker{
		cfg:    cfg,
		logger: logger.With("component", "broker"),
		client: &kafka.Client{
			Addr:    kafka.TCP(cfg.Brokers...),
			Timeout: 10 * time.Second,
		},
		writers: make(map[string]*kafka.Writer),
	}, nil
}

// writer returns the writer for a topic, creating it on first use.
func (b *KafkaBroker) writer(topic string) *kafka.Writer {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w

	return w
}

// Publish enqueues body on queue, enforcing the queue ceiling and retrying
// transient broker failures.
func (b *KafkaBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if b.cfg.MaxQueueLength > 0 {
		length, err := b.queueLength(ctx, queue)
		if err != nil {
			// an unreadable ceiling must not block publishing
			b.logger.WarnContext(ctx, "queue length check failed", "queue", queue, "error", err)
		} else if length >= int64(b.cfg.MaxQueueLength) {
			return fmt.Errorf("%w: %s has %d pending messages", ErrQueueFull, queue, length)
		}
	}

	return b.publish(ctx, queue, kafka.Message{
		Value:   body,
		Headers: []kafka.Header{{Key: attemptsHeader, Value: []byte("1")}},
	})
}

// publish writes one message with the configured retry budget.
func (b *KafkaBroker) publish(ctx context.Context, queue string, message kafka.Message) error {
	topic := b.cfg.Topic(queue)
	writer := b.writer(topic)

	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxMessageTries; attempt++ {
		lastErr = writer.WriteMessages(ctx, message)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		b.logger.WarnContext(ctx, "publish attempt failed",
			"queue", queue,
			"attempt", attempt,
			"error", lastErr)

		if attempt < b.cfg.MaxMessageTries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.PublishBackoff):
			}
		}
	}

	return fmt.Errorf("%w: %s after %d tries: %v", ErrPublishFailed, queue, b.cfg.MaxMessageTries, lastErr)
}

// Consume delivers messages from queue to handler until ctx is canceled.
func (b *KafkaBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    b.cfg.Topic(queue),
		GroupID:  b.cfg.Group(queue),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	defer func() {
		if err := reader.Close(); err != nil {
			b.logger.Warn("failed to close reader", "queue", queue, "error", err)
		}
	}()

	b.logger.InfoContext(ctx, "consuming queue", "queue", queue, "group", b.cfg.Group(queue))

	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return fmt.Errorf("fetching from %s: %w", queue, err)
		}

		verdict := handler(ctx, Delivery{
			Queue:    queue,
			Body:     message.Value,
			Attempts: deliveryAttempts(message),
		})

		if verdict == VerdictRetry {
			b.redeliver(ctx, queue, message)
		}

		// the original message is committed in all cases; retries live on
		// as republished copies
		if err := reader.CommitMessages(ctx, message); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("committing on %s: %w", queue, err)
		}
	}
}

// redeliver republishes a message with an incremented attempts header, unless
// the delivery budget is exhausted.
func (b *KafkaBroker) redeliver(ctx context.Context, queue string, message kafka.Message) {
	attempts := deliveryAttempts(message)
	if attempts >= b.cfg.MaxDeliveries {
		b.logger.WarnContext(ctx, "delivery budget exhausted, dropping message",
			"queue", queue,
			"attempts", attempts)

		return
	}

	retry := kafka.Message{
		Value:   message.Value,
		Headers: []kafka.Header{{Key: attemptsHeader, Value: []byte(strconv.Itoa(attempts + 1))}},
	}

	if err := b.publish(ctx, queue, retry); err != nil {
		b.logger.ErrorContext(ctx, "failed to republish for retry",
			"queue", queue,
			"attempts", attempts,
			"error", err)
	}
}

// queueLength returns the total consumer-group lag of a queue, the pending
// message count as seen by the workers.
func (b *KafkaBroker) queueLength(ctx context.Context, queue string) (int64, error) {
	topic := b.cfg.Topic(queue)

	metadata, err := b.client.Metadata(ctx, &kafka.MetadataRequest{
		Topics: []string{topic},
	})
	if err != nil {
		return 0, fmt.Errorf("reading metadata for %s: %w", topic, err)
	}

	var partitions []int

	for _, t := range metadata.Topics {
		if t.Name != topic {
			continue
		}

		for _, p := range t.Partitions {
			partitions = append(partitions, p.ID)
		}
	}

	if len(partitions) == 0 {
		// topic not created yet, nothing pending
		return 0, nil
	}

	offsetRequests := make([]kafka.OffsetRequest, 0, len(partitions))
	for _, p := range partitions {
		offsetRequests = append(offsetRequests, kafka.LastOffsetOf(p))
	}

	listed, err := b.client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Topics: map[string][]kafka.OffsetRequest{topic: offsetRequests},
	})
	if err != nil {
		return 0, fmt.Errorf("listing offsets for %s: %w", topic, err)
	}

	fetched, err := b.client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
		GroupID: b.cfg.Group(queue),
		Topics:  map[string][]int{topic: partitions},
	})
	if err != nil {
		return 0, fmt.Errorf("fetching group offsets for %s: %w", topic, err)
	}

	committed := make(map[int]int64)

	for _, p := range fetched.Topics[topic] {
		committed[p.Partition] = p.CommittedOffset
	}

	var lag int64

	for _, p := range listed.Topics[topic] {
		offset, ok := committed[p.Partition]
		if !ok || offset < 0 {
			// group has not consumed this partition yet
			offset = p.FirstOffset
		}

		if p.LastOffset > offset {
			lag += p.LastOffset - offset
		}
	}

	return lag, nil
}

// Ping verifies broker connectivity with a metadata round trip.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	if _, err := b.client.Metadata(ctx, &kafka.MetadataRequest{}); err != nil {
		return fmt.Errorf("kafka unreachable: %w", err)
	}

	return nil
}

// Close flushes and closes all writers.
func (b *KafkaBroker) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var errs []error

	for topic, writer := range b.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer for %s: %w", topic, err))
		}
	}

	b.writers = make(map[string]*kafka.Writer)

	return errors.Join(errs...)
}

// deliveryAttempts extracts the attempts header, defaulting to 1.
func deliveryAttempts(message kafka.Message) int {
	for _, header := range message.Headers {
		if header.Key != attemptsHeader {
			continue
		}

		if attempts, err := strconv.Atoi(string(header.Value)); err == nil && attempts > 0 {
			return attempts
		}
	}

	return 1
}
