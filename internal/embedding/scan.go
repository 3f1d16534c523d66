package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// pendingLister is the slice of the passage store the scanner needs.
type pendingLister interface {
	PromoteStatus(ctx context.Context, from, to domain.PassageStatus) (int64, error)
	ListIDsByStatus(ctx context.Context, status domain.PassageStatus, limit, offset int) ([]int64, error)
}

// Scanner finds passages awaiting vector sync and dispatches
// prepare-stage jobs for them in independent batches.
type Scanner struct {
	passages  pendingLister
	publisher task.Publisher

	// fetchSize is the page size of the pending scan; processSize is how
	// many ids one dispatched job carries.
	fetchSize   int
	processSize int
}

// NewScanner creates a Scanner.
func NewScanner(passages pendingLister, publisher task.Publisher, fetchSize, processSize int) *Scanner {
	if fetchSize <= 0 {
		fetchSize = 500
	}
	if processSize <= 0 {
		processSize = 100
	}
	return &Scanner{
		passages:    passages,
		publisher:   publisher,
		fetchSize:   fetchSize,
		processSize: processSize,
	}
}

// Scan promotes freshly chunked passages into the pending pool, pages
// through all pending ids, and dispatches one prepare job per batch of
// processSize ids. Batches are independent: one failing chain does not
// touch its siblings. Returns the number of jobs dispatched.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	promoted, err := s.passages.PromoteStatus(ctx, domain.StatusProcessedChunk, domain.StatusPendingEmbedding)
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		log.Info("promoted chunked passages to pending", "count", promoted)
	}

	var ids []int64
	for offset := 0; ; offset += s.fetchSize {
		page, err := s.passages.ListIDsByStatus(ctx, domain.StatusPendingEmbedding, s.fetchSize, offset)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}
		ids = append(ids, page...)
	}

	if len(ids) == 0 {
		log.Info("no passages pending vector sync")
		return 0, nil
	}

	dispatched := 0
	for start := 0; start < len(ids); start += s.processSize {
		end := start + s.processSize
		if end > len(ids) {
			end = len(ids)
		}

		payload, err := json.Marshal(SyncPayload{Stage: StagePrepare, IDs: ids[start:end]})
		if err != nil {
			return dispatched, fmt.Errorf("failed to encode prepare payload: %w", err)
		}
		if err := s.publisher.Publish(ctx, task.QueueEmbedding, payload); err != nil {
			log.Error("failed to dispatch embedding batch",
				"batch_start", start,
				"error", err)
			continue
		}
		dispatched++
	}

	log.Info("embedding scan complete",
		"pending", len(ids),
		"batches_dispatched", dispatched)
	return dispatched, nil
}
