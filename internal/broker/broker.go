// Package broker provides the work-queue transport between the API server
// and the worker fleet.
//
// Queues are at-least-once: a handler returns a Verdict and the broker
// translates it into commit, bounded redelivery, or drop. Producers see a
// bounded queue; publishing into a full queue fails fast with ErrQueueFull
// so the API can shed load instead of hiding it.
package broker

import (
	"context"
	"errors"
)

// Queue names. Each maps to one Kafka topic under the configured prefix.
const (
	// QueueAnalysis carries gene set analysis jobs.
	QueueAnalysis = "analysis"
	// QueueReport carries report generation jobs.
	QueueReport = "report"
	// QueueDataset carries external dataset load jobs.
	QueueDataset = "dataset"
)

// Sentinel errors.
var (
	// ErrQueueFull indicates the queue has reached its configured ceiling.
	ErrQueueFull = errors.New("queue is full")

	// ErrPublishFailed indicates the message could not be handed to the
	// broker within the configured retry budget.
	ErrPublishFailed = errors.New("publish failed")
)

// Verdict is a handler's decision about a delivery.
type Verdict int

// Handler verdicts.
const (
	// VerdictAck acknowledges the delivery; it will not be seen again.
	VerdictAck Verdict = iota
	// VerdictRetry requests a bounded redelivery.
	VerdictRetry
	// VerdictDrop acknowledges the delivery without processing it.
	VerdictDrop
)

// Delivery is one message handed to a Handler.
type Delivery struct {
	// Queue is the queue the message arrived on.
	Queue string
	// Body is the message payload. For job queues this is the job id;
	// the request data itself is staged on the blackboard.
	Body []byte
	// Attempts counts deliveries of this message, starting at 1.
	Attempts int
}

// Handler processes one delivery and returns a verdict.
type Handler func(ctx context.Context, delivery Delivery) Verdict

// Publisher enqueues messages.
type Publisher interface {
	// Publish enqueues body on queue. Returns ErrQueueFull when the queue
	// is at its ceiling and ErrPublishFailed when the broker stays
	// unreachable across the retry budget.
	Publish(ctx context.Context, queue string, body []byte) error
}

// Consumer drains one queue with a handler.
type Consumer interface {
	// Consume delivers messages from queue to handler until ctx is
	// canceled. Redeliveries requested via VerdictRetry are bounded by the
	// configured delivery budget; exhausted messages are dropped.
	Consume(ctx context.Context, queue string, handler Handler) error
}

// Broker is the combined producer and consumer surface.
type Broker interface {
	Publisher
	Consumer

	// Ping verifies broker connectivity.
	Ping(ctx context.Context) error

	// Close releases all broker resources.
	Close() error
}
