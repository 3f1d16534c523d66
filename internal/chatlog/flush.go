package chatlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// objectWriter is the slice of the object store the flusher needs.
type objectWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error
}

// Flusher archives one session's buffered entries to the object store.
type Flusher struct {
	store   listStore
	objects objectWriter
}

// NewFlusher creates a Flusher.
func NewFlusher(store listStore, objects objectWriter) *Flusher {
	return &Flusher{store: store, objects: objects}
}

// HandleFlush is the logging queue handler. It reads the session's
// buffered entries, writes them as one gzipped JSON batch, and only
// then trims them from the buffer, so a failed archive write leaves the
// entries in place for the retry. Entries appended while the flush is
// in flight survive the trim.
func (f *Flusher) HandleFlush(ctx context.Context, payload []byte) task.Result {
	log := logger.FromContext(ctx)

	var job FlushPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return task.Permanent(fmt.Errorf("malformed flush payload: %w", err))
	}
	if job.Session == "" {
		return task.Permanent(fmt.Errorf("flush payload missing session"))
	}
	log = log.With("session", job.Session)

	entries, err := f.store.Entries(ctx, job.Session)
	if err != nil {
		log.Error("failed to read chat log buffer", "error", err)
		return task.Retry(err)
	}
	if len(entries) == 0 {
		// Nothing buffered; drop the empty key so the sweeper stops
		// seeing it.
		if err := f.store.Delete(ctx, job.Session); err != nil {
			log.Warn("failed to delete empty chat log buffer", "error", err)
		}
		log.Info("chat log buffer empty, nothing to flush")
		return task.Success()
	}

	batch, err := encodeBatch(entries)
	if err != nil {
		return task.Permanent(err)
	}

	key := batchKey(job.Session, time.Now().UTC())
	if err := f.objects.Put(ctx, key, batch, "application/json", "gzip"); err != nil {
		log.Error("failed to archive chat log batch", "key", key, "error", err)
		return task.Retry(err)
	}

	if err := f.store.TrimFront(ctx, job.Session, int64(len(entries))); err != nil {
		// The batch is archived; a retry would re-archive the same
		// entries under a new key rather than lose them.
		log.Error("archived chat log batch but failed to trim buffer", "key", key, "error", err)
		return task.Retry(err)
	}

	log.Info("archived chat log batch", "key", key, "entries", len(entries))
	return task.Success()
}

// encodeBatch joins the already-encoded entries into one gzipped JSON
// array.
func encodeBatch(entries []string) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		if !json.Valid([]byte(e)) {
			return nil, fmt.Errorf("corrupt chat log entry in buffer: %q", e)
		}
		raw = append(raw, json.RawMessage(e))
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat log batch: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return nil, fmt.Errorf("failed to compress chat log batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress chat log batch: %w", err)
	}
	return buf.Bytes(), nil
}

// batchKey lays out archive keys by date, then session, with a
// timestamp plus random suffix so concurrent flushes never collide.
func batchKey(session string, now time.Time) string {
	return fmt.Sprintf("logs/%s/%s/batch_%d_%s.json.gz",
		now.Format("2006-01-02"),
		session,
		now.Unix(),
		uuid.NewString()[:8])
}
