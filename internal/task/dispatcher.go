package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
)

// fetchMaxWait bounds how long an idle worker blocks on the broker
// before re-checking for shutdown.
const fetchMaxWait = 5 * time.Second

// MessageSource is the slice of jetstream.Consumer the dispatcher
// consumes from.
type MessageSource interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// DispatcherConfig holds configuration for a queue dispatcher.
type DispatcherConfig struct {
	// WorkerCount is the number of concurrent pull workers.
	WorkerCount int

	// MaxAttempts bounds deliveries per message, first try included.
	MaxAttempts uint64

	// Backoff computes the delay before a redelivery.
	Backoff Backoff
}

// Dispatcher pulls messages from one named queue and runs them through
// a Handler under the retry envelope. A message is acknowledged only
// after the handler returns (late acknowledgment), so a crash
// mid-handler causes redelivery by the broker.
type Dispatcher struct {
	queue   Queue
	source  MessageSource
	handler Handler
	cfg     DispatcherConfig
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for the given queue.
func NewDispatcher(queue Queue, source MessageSource, handler Handler, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return &Dispatcher{
		queue:   queue,
		source:  source,
		handler: handler,
		cfg:     cfg,
		logger:  log.With("component", "dispatcher", "queue", string(queue)),
	}
}

// Run starts the pull workers and blocks until ctx is cancelled and all
// in-flight handlers have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting dispatcher", "workers", d.cfg.WorkerCount)

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.wg.Wait()

	d.logger.Info("dispatcher stopped")
}

// worker pulls one message at a time so the broker's redelivery window
// covers exactly the in-flight unit of work.
func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	log := d.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		batch, err := d.source.Fetch(1, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			if ctx.Err() == nil {
				log.Error("failed to fetch from queue", "error", err)
				time.Sleep(time.Second)
			}
			continue
		}

		for msg := range batch.Messages() {
			d.process(ctx, msg, log)
		}
	}
}

// process executes the handler for one delivery and settles the message
// according to the tagged result.
func (d *Dispatcher) process(ctx context.Context, msg jetstream.Msg, log *slog.Logger) {
	attempt := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		attempt = meta.NumDelivered
	}

	log = log.With("attempt", attempt, "max_attempts", d.cfg.MaxAttempts)
	log.Info("processing message")

	res := d.handler(logger.WithLogger(ctx, log), msg.Data())

	switch {
	case res.IsSuccess():
		if err := msg.Ack(); err != nil {
			log.Error("failed to acknowledge message", "error", err)
			return
		}
		log.Info("message completed")

	case res.IsPermanent():
		// Permanent input errors do not consume retry budget.
		log.Error("permanent failure, terminating message", "error", res.Err())
		if err := msg.Term(); err != nil {
			log.Error("failed to terminate message", "error", err)
		}

	default:
		if attempt >= d.cfg.MaxAttempts {
			log.Error("retry budget exhausted, job failed",
				"error", res.Err(),
				"attempts", attempt)
			if err := msg.Term(); err != nil {
				log.Error("failed to terminate message", "error", err)
			}
			return
		}

		delay := res.delay
		if delay <= 0 {
			delay = d.cfg.Backoff.Delay(attempt)
		}
		log.Warn("transient failure, scheduling retry",
			"error", res.Err(),
			"delay", delay)
		if err := msg.NakWithDelay(delay); err != nil {
			log.Error("failed to schedule redelivery", "error", err)
		}
	}
}
