package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// FlushPayload is the body of a logging-queue flush job.
type FlushPayload struct {
	Session string `json:"session"`
}

// Buffer appends chat log entries to a session's Redis list and
// dispatches a flush when the list reaches the threshold.
type Buffer struct {
	store     listStore
	publisher task.Publisher
	threshold int64
	ttl       time.Duration
}

// NewBuffer creates a Buffer.
func NewBuffer(store listStore, publisher task.Publisher, threshold int, ttl time.Duration) *Buffer {
	if threshold <= 0 {
		threshold = 10
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Buffer{
		store:     store,
		publisher: publisher,
		threshold: int64(threshold),
		ttl:       ttl,
	}
}

// Append buffers one entry for the session. Every append refreshes the
// buffer's TTL, so the expiry window slides with activity. A flush is
// dispatched only when the append lands exactly on the threshold, so a
// buffer already above it (flush in flight) does not dispatch again on
// every subsequent append.
func (b *Buffer) Append(ctx context.Context, session string, entry domain.ChatLogEntry) error {
	log := logger.FromContext(ctx)

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode chat log entry: %w", err)
	}

	length, err := b.store.Append(ctx, session, string(encoded))
	if err != nil {
		return err
	}

	if err := b.store.Refresh(ctx, session, b.ttl); err != nil {
		log.Warn("failed to refresh chat log expiry", "session", session, "error", err)
	}

	if length == b.threshold {
		payload, err := json.Marshal(FlushPayload{Session: session})
		if err != nil {
			return fmt.Errorf("failed to encode flush payload: %w", err)
		}
		if err := b.publisher.Publish(ctx, task.QueueLogging, payload); err != nil {
			// The entry is buffered; the sweeper will pick it up if no
			// later append re-triggers the flush.
			log.Error("failed to dispatch chat log flush", "session", session, "error", err)
			return nil
		}
		log.Info("dispatched chat log flush", "session", session, "buffered", length)
	}

	return nil
}
