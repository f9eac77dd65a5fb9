package broker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker implements Broker on buffered channels. It backs unit tests
// and single-process development runs with the same bounded-queue and
// bounded-redelivery semantics as the Kafka broker.
type MemoryBroker struct {
	cfg *Config

	queues map[string]chan Delivery
	mutex  sync.Mutex
	closed bool
}

// NewMemoryBroker creates an in-memory broker.
func NewMemoryBroker(cfg *Config) *MemoryBroker {
	return &MemoryBroker{
		cfg:    cfg,
		queues: make(map[string]chan Delivery),
	}
}

// queue returns the channel of a queue, creating it on first use. The
// channel capacity is the queue ceiling.
func (b *MemoryBroker) queue(name string) chan Delivery {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if ch, ok := b.queues[name]; ok {
		return ch
	}

	capacity := b.cfg.MaxQueueLength
	if capacity <= 0 {
		capacity = 1024
	}

	ch := make(chan Delivery, capacity)
	b.queues[name] = ch

	return ch
}

// Publish enqueues body on queue, failing fast when the queue is full.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	delivery := Delivery{Queue: queue, Body: body, Attempts: 1}

	select {
	case b.queue(queue) <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, queue)
	}
}

// Consume delivers messages from queue to handler until ctx is canceled.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	ch := b.queue(queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery := <-ch:
			if handler(ctx, delivery) == VerdictRetry && delivery.Attempts < b.cfg.MaxDeliveries {
				delivery.Attempts++

				select {
				case ch <- delivery:
				default:
					// full queue swallows the retry, matching the
					// at-most-MaxDeliveries guarantee
				}
			}
		}
	}
}

// Ping always succeeds.
func (b *MemoryBroker) Ping(_ context.Context) error {
	return nil
}

// Close releases the queues.
func (b *MemoryBroker) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.closed = true

	return nil
}
