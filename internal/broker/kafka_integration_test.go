package broker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// setupKafka starts a single-node Kafka container and returns a broker
// configured against it.
func setupKafka(t *testing.T) *KafkaBroker {
	t.Helper()

	ctx := context.Background()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("gsakit-test"),
	)
	if err != nil {
		t.Fatalf("Failed to start kafka container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Errorf("Failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("Failed to get broker addresses: %v", err)
	}

	cfg := &Config{
		Brokers:         brokers,
		TopicPrefix:     "gsa.",
		GroupPrefix:     "gsakit-",
		MaxQueueLength:  0, // lag checks need an established group, not useful here
		MaxMessageTries: 3,
		MaxDeliveries:   3,
		PublishBackoff:  time.Second,
	}

	b, err := NewKafkaBroker(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() { _ = b.Close() })

	return b
}

// TestKafkaBrokerRoundTrip publishes to a real Kafka container and verifies
// delivery, retry redelivery, and the attempts header.
func TestKafkaBrokerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b := setupKafka(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	require.NoError(t, b.Ping(ctx))
	require.NoError(t, b.Publish(ctx, QueueAnalysis, []byte("Analysis00000001")))

	var (
		mutex    sync.Mutex
		attempts []int
	)

	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		done <- b.Consume(consumeCtx, QueueAnalysis, func(_ context.Context, d Delivery) Verdict {
			mutex.Lock()
			attempts = append(attempts, d.Attempts)
			count := len(attempts)
			mutex.Unlock()

			assert.Equal(t, "Analysis00000001", string(d.Body))

			// retry once, then ack the redelivered copy
			if count == 1 {
				return VerdictRetry
			}

			stop()

			return VerdictAck
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for consume to finish")
	}

	mutex.Lock()
	defer mutex.Unlock()
	require.Len(t, attempts, 2)
	assert.Equal(t, []int{1, 2}, attempts)
}
