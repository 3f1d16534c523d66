// Package embedding runs the two-stage vector sync: a prepare stage
// that loads pending passages from Postgres and shapes them into vector
// records, and an upsert stage that embeds the records and writes them
// into the vector index, marking database status as it goes.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/platform/qdrant"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// Stages of the sync chain. Both travel over the embedding queue; the
// payload's stage field routes to the right step.
const (
	StagePrepare = "prepare"
	StageUpsert  = "upsert"
)

// StatusPrepared marks a record the prepare stage has validated and
// shaped. The upsert stage ignores records without it.
const StatusPrepared = "prepared"

// Record is one passage shaped for the vector index.
type Record struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

// SyncPayload is the body of an embedding job. A prepare-stage payload
// carries passage ids; an upsert-stage payload carries the prepared
// records.
type SyncPayload struct {
	Stage   string   `json:"stage"`
	IDs     []int64  `json:"ids,omitempty"`
	Records []Record `json:"records,omitempty"`
}

// passageReader is the slice of the passage store the sync needs.
type passageReader interface {
	GetByIDs(ctx context.Context, ids []int64) ([]domain.Passage, error)
	UpdateStatus(ctx context.Context, ids []int64, status domain.PassageStatus) error
}

// embedder produces an embedding vector for one text.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// vectorIndex is the slice of the index the upsert stage writes to.
type vectorIndex interface {
	Upsert(ctx context.Context, points []qdrant.Point) error
}

// Syncer handles embedding-queue jobs.
type Syncer struct {
	passages  passageReader
	embedder  embedder
	index     vectorIndex
	publisher task.Publisher
	batchSize int
}

// NewSyncer creates a Syncer. batchSize bounds how many records one
// upsert round trip carries.
func NewSyncer(passages passageReader, embedder embedder, index vectorIndex, publisher task.Publisher, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Syncer{
		passages:  passages,
		embedder:  embedder,
		index:     index,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// HandleSync is the embedding queue handler; it routes on the payload's
// stage field.
func (s *Syncer) HandleSync(ctx context.Context, payload []byte) task.Result {
	var job SyncPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return task.Permanent(fmt.Errorf("malformed embedding payload: %w", err))
	}

	switch job.Stage {
	case StagePrepare:
		return s.prepare(ctx, job.IDs)
	case StageUpsert:
		return s.upsert(ctx, job.Records)
	default:
		return task.Permanent(fmt.Errorf("unknown embedding stage %q", job.Stage))
	}
}

// prepare loads the passages, fails out the ones with nothing to embed,
// and chains an upsert-stage job carrying the prepared records.
func (s *Syncer) prepare(ctx context.Context, ids []int64) task.Result {
	log := logger.FromContext(ctx)

	if len(ids) == 0 {
		return task.Success()
	}

	passages, err := s.passages.GetByIDs(ctx, ids)
	if err != nil {
		log.Error("failed to load passages for preparation", "error", err)
		return task.Retry(err)
	}
	if len(passages) < len(ids) {
		log.Warn("some passages vanished before preparation",
			"requested", len(ids),
			"found", len(passages))
	}

	var records []Record
	var unembeddable []int64
	for _, p := range passages {
		if p.Text == "" {
			unembeddable = append(unembeddable, p.ID)
			continue
		}
		records = append(records, Record{
			ID:     p.ID,
			Title:  p.Title,
			Text:   p.Text,
			Status: StatusPrepared,
		})
	}

	// Passages with no text can never be embedded; mark them failed now
	// rather than shuttling them through the upsert stage.
	if len(unembeddable) > 0 {
		log.Warn("marking passages without text as failed", "ids", unembeddable)
		if err := s.passages.UpdateStatus(ctx, unembeddable, domain.StatusEmbeddingFailed); err != nil {
			log.Error("failed to mark unembeddable passages", "error", err)
			return task.Retry(err)
		}
	}

	if len(records) == 0 {
		log.Info("no records to prepare")
		return task.Success()
	}

	next, err := json.Marshal(SyncPayload{Stage: StageUpsert, Records: records})
	if err != nil {
		return task.Permanent(fmt.Errorf("failed to encode upsert payload: %w", err))
	}
	if err := s.publisher.Publish(ctx, task.QueueEmbedding, next); err != nil {
		log.Error("failed to chain upsert stage", "error", err)
		return task.Retry(err)
	}

	log.Info("prepared records for upsert", "count", len(records))
	return task.Success()
}

// upsert embeds the prepared records and writes them to the vector
// index in sub-batches, marking each sub-batch embedded as soon as its
// index write lands.
func (s *Syncer) upsert(ctx context.Context, records []Record) task.Result {
	log := logger.FromContext(ctx)

	valid := records[:0:0]
	for _, r := range records {
		if r.Status != StatusPrepared || r.Text == "" {
			log.Warn("skipping record not ready for upsert", "id", r.ID, "status", r.Status)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		log.Info("no prepared records to upsert")
		return task.Success()
	}

	for start := 0; start < len(valid); start += s.batchSize {
		end := start + s.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		points := make([]qdrant.Point, 0, len(batch))
		ids := make([]int64, 0, len(batch))
		for _, r := range batch {
			vector, err := s.embedder.Embed(ctx, r.Text)
			if err != nil {
				log.Error("failed to embed passage", "id", r.ID, "error", err)
				return task.Retry(err)
			}
			points = append(points, qdrant.Point{
				Key:    vectorKey(r.ID),
				Vector: vector,
				Payload: map[string]string{
					"id":    fmt.Sprintf("%d", r.ID),
					"title": r.Title,
					"text":  r.Text,
				},
			})
			ids = append(ids, r.ID)
		}

		if err := s.index.Upsert(ctx, points); err != nil {
			log.Error("failed to upsert batch into vector index", "error", err)
			return task.Retry(err)
		}

		// The index write landed but the database does not know. Without
		// the status flip these rows get re-synced forever, so a failure
		// here needs an operator.
		if err := s.passages.UpdateStatus(ctx, ids, domain.StatusEmbedded); err != nil {
			log.Error("vector upsert succeeded but status update failed, manual intervention required",
				"ids", ids,
				"error", err)
			return task.Retry(err)
		}

		log.Info("upserted batch", "count", len(batch))
	}

	return task.Success()
}

// vectorKey is the logical vector-index key for a passage. The index
// maps it onto a stable point id, so repeat syncs overwrite in place.
func vectorKey(id int64) string {
	return fmt.Sprintf("passage-%d", id)
}
