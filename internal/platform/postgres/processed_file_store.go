package postgres

import (
	"context"
	"fmt"
)

// ProcessedFileStore records which source files have completed
// extraction. A row's existence is the idempotency guard that keeps a
// file from being dispatched twice; rows are never mutated or deleted.
type ProcessedFileStore struct {
	db Querier
}

// NewProcessedFileStore creates a ProcessedFileStore over the given Querier.
func NewProcessedFileStore(db Querier) *ProcessedFileStore {
	return &ProcessedFileStore{db: db}
}

// WithQuerier returns a ProcessedFileStore bound to a different Querier.
func (s *ProcessedFileStore) WithQuerier(db Querier) *ProcessedFileStore {
	return &ProcessedFileStore{db: db}
}

// MarkProcessed records the filename. Marking an already-marked file is
// a no-op (insert-or-ignore), which makes re-runs safe.
func (s *ProcessedFileStore) MarkProcessed(ctx context.Context, filename string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO processed_files (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`,
		filename,
	)
	if err != nil {
		return fmt.Errorf("failed to mark file %q as processed: %w", filename, err)
	}
	return nil
}

// ListFilenames returns the set of filenames already processed.
func (s *ProcessedFileStore) ListFilenames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx, `SELECT filename FROM processed_files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed files: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan processed file row: %w", err)
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processed file rows: %w", err)
	}

	return names, nil
}
