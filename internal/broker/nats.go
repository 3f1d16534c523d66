// Package broker wires the NATS JetStream queues the pipeline runs on.
// Each task category gets its own stream and a durable explicit-ack
// consumer, which is what gives handlers at-least-once delivery with
// late acknowledgment.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// Broker owns the NATS connection and JetStream context.
type Broker struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials the broker and initializes JetStream.
func Connect(ctx context.Context, cfg config.NATSConfig) (*Broker, error) {
	log := logger.FromContext(ctx)

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		log.Error("could not connect to NATS", "url", cfg.URL, "error", err)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		log.Error("could not create JetStream context", "error", err)
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Broker{conn: conn, js: js}, nil
}

// subject returns the publish subject for a queue.
func subject(queue task.Queue) string {
	return fmt.Sprintf("%s.jobs", queue)
}

// EnsureQueue creates or updates the stream and durable consumer for
// the named queue and returns the consumer. MaxDeliver mirrors the
// dispatcher's attempt budget so the broker stops redelivering once the
// budget is spent even if the process dies before terminating the
// message; AckWait is the visibility timeout for a stalled handler.
func (b *Broker) EnsureQueue(ctx context.Context, queue task.Queue, maxAttempts uint64, ackWait time.Duration) (jetstream.Consumer, error) {
	log := logger.FromContext(ctx)

	if ackWait <= 0 {
		ackWait = time.Minute
	}

	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     string(queue),
		Subjects: []string{subject(queue)},
	})
	if err != nil {
		log.Error("could not create stream", "queue", queue, "error", err)
		return nil, fmt.Errorf("failed to create stream for queue %q: %w", queue, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    fmt.Sprintf("%s-workers", queue),
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: int(maxAttempts),
	})
	if err != nil {
		log.Error("could not create consumer", "queue", queue, "error", err)
		return nil, fmt.Errorf("failed to create consumer for queue %q: %w", queue, err)
	}

	return consumer, nil
}

// Publish enqueues one message onto the named queue.
func (b *Broker) Publish(ctx context.Context, queue task.Queue, payload []byte) error {
	if _, err := b.js.Publish(ctx, subject(queue), payload); err != nil {
		return fmt.Errorf("failed to publish to queue %q: %w", queue, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *Broker) Close() {
	b.conn.Close()
}
