package chatlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// Sweeper periodically flushes lingering session buffers that never
// reached the size threshold, and garbage-collects empty ones.
type Sweeper struct {
	store     listStore
	publisher task.Publisher
	interval  time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(store listStore, publisher task.Publisher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{store: store, publisher: publisher, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With("component", "chatlog_sweeper")
	log.Info("starting chat log sweeper", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("chat log sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(logger.WithLogger(ctx, log))
		}
	}
}

// Sweep walks every buffered session once: non-empty buffers get a
// flush job, empty ones are deleted. Per-session failures are logged
// and skipped so one bad session cannot stall the rest.
func (s *Sweeper) Sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	sessions, err := s.store.Sessions(ctx)
	if err != nil {
		log.Error("failed to list chat log sessions", "error", err)
		return
	}

	flushed := 0
	for _, session := range sessions {
		length, err := s.store.Length(ctx, session)
		if err != nil {
			log.Error("failed to read chat log length", "session", session, "error", err)
			continue
		}

		if length == 0 {
			if err := s.store.Delete(ctx, session); err != nil {
				log.Warn("failed to delete empty chat log buffer", "session", session, "error", err)
			}
			continue
		}

		payload, err := json.Marshal(FlushPayload{Session: session})
		if err != nil {
			log.Error("failed to encode flush payload", "session", session, "error", err)
			continue
		}
		if err := s.publisher.Publish(ctx, task.QueueLogging, payload); err != nil {
			log.Error("failed to dispatch sweep flush", "session", session, "error", err)
			continue
		}
		flushed++
	}

	if len(sessions) > 0 {
		log.Info("chat log sweep complete", "sessions", len(sessions), "flushes_dispatched", flushed)
	}
}
