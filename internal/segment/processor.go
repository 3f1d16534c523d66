package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/platform/postgres"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// ProcessDocumentPayload is the body of a preprocessing job.
type ProcessDocumentPayload struct {
	Path string `json:"path"`
}

// txRunner runs a function inside one database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn postgres.TxFn) error
}

// passageWriter is the slice of the passage store the replacement step
// needs.
type passageWriter interface {
	Delete(ctx context.Context, id int64) (int64, error)
	BulkInsert(ctx context.Context, passages []domain.Passage) error
}

// passageStore is the transaction-bound slice of the passage store the
// handler needs.
type passageStore interface {
	passageWriter
	Insert(ctx context.Context, p *domain.Passage) (int64, error)
}

// markerStore records which source files have completed extraction.
type markerStore interface {
	MarkProcessed(ctx context.Context, filename string) error
}

// Processor handles preprocessing jobs: extract, chunk, replace, mark.
// The store accessors bind to the transaction the handler runs in.
type Processor struct {
	tx       txRunner
	passages func(db postgres.Querier) passageStore
	files    func(db postgres.Querier) markerStore
	extract  func(path string) (Extraction, error)
	cfg      config.PipelineConfig
}

// NewProcessor creates a Processor over the concrete stores.
func NewProcessor(pool *postgres.Pool, passages *postgres.PassageStore, files *postgres.ProcessedFileStore, cfg config.PipelineConfig) *Processor {
	return &Processor{
		tx:       pool,
		passages: func(db postgres.Querier) passageStore { return passages.WithQuerier(db) },
		files:    func(db postgres.Querier) markerStore { return files.WithQuerier(db) },
		extract:  ExtractPDF,
		cfg:      cfg,
	}
}

// HandleProcessDocument is the preprocessing queue handler. Extraction
// failures are retryable; empty documents are terminal success and only
// write the processed-file marker; everything else runs placeholder
// insert, chunk replacement and marker write in a single transaction.
func (p *Processor) HandleProcessDocument(ctx context.Context, payload []byte) task.Result {
	log := logger.FromContext(ctx)

	var job ProcessDocumentPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return task.Permanent(fmt.Errorf("malformed preprocessing payload: %w", err))
	}
	filename := filepath.Base(job.Path)
	log = log.With("file", filename)

	extraction, err := p.extract(job.Path)
	if err != nil {
		log.Error("extraction failed", "error", err)
		return task.Retry(err)
	}

	if extraction.Empty || extraction.Body == "" {
		if extraction.Empty {
			log.Warn("no text content extracted, marking file processed")
		} else {
			log.Warn("only a title line extracted, marking file processed")
		}
		err := p.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return p.files(tx).MarkProcessed(ctx, filename)
		})
		if err != nil {
			log.Error("failed to mark empty file as processed", "error", err)
			return task.Retry(err)
		}
		return task.Success()
	}

	var written int
	err = p.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		passages := p.passages(tx)

		placeholderID, err := passages.Insert(ctx, &domain.Passage{
			Title:  extraction.Title,
			Text:   extraction.Body,
			Status: domain.StatusProcessing,
		})
		if err != nil {
			return err
		}

		chunks := Chunk(extraction.Title, extraction.Body, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		written, err = replaceWithChunks(ctx, passages, placeholderID, chunks)
		if err != nil {
			return err
		}

		return p.files(tx).MarkProcessed(ctx, filename)
	})
	if err != nil {
		log.Error("document processing transaction failed", "error", err)
		return task.Retry(err)
	}

	log.Info("document processed", "chunks", written)
	return task.Success()
}

// replaceWithChunks atomically swaps a placeholder row for its chunk
// rows. Zero chunks deletes the placeholder and reports success so no
// orphan placeholder is ever left behind; a placeholder that is already
// gone logs a warning but does not fail the transaction.
func replaceWithChunks(ctx context.Context, passages passageWriter, placeholderID int64, chunks []domain.Passage) (int, error) {
	log := logger.FromContext(ctx)

	deleted, err := passages.Delete(ctx, placeholderID)
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		log.Warn("placeholder passage not found for deletion", "placeholder_id", placeholderID)
	}

	if len(chunks) == 0 {
		log.Warn("no valid chunks generated, placeholder removed", "placeholder_id", placeholderID)
		return 0, nil
	}

	if err := passages.BulkInsert(ctx, chunks); err != nil {
		return 0, err
	}

	log.Info("replaced placeholder with chunks",
		"placeholder_id", placeholderID,
		"chunks", len(chunks))
	return len(chunks), nil
}
