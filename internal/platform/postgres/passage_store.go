package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
)

// Querier abstracts the database access layer. It is implemented by both
// *pgxpool.Pool and pgx.Tx, so store code can run against the pool or
// inside a caller-managed transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PassageStore persists passages and their status transitions.
type PassageStore struct {
	db Querier
}

// NewPassageStore creates a PassageStore over the given Querier.
func NewPassageStore(db Querier) *PassageStore {
	return &PassageStore{db: db}
}

// WithQuerier returns a PassageStore bound to a different Querier,
// typically a transaction managed by the caller.
func (s *PassageStore) WithQuerier(db Querier) *PassageStore {
	return &PassageStore{db: db}
}

// Insert stores a single passage and returns the generated id.
func (s *PassageStore) Insert(ctx context.Context, p *domain.Passage) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO passages (title, text, status) VALUES ($1, $2, $3) RETURNING id`,
		p.Title, p.Text, string(p.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert passage: %w", err)
	}
	return id, nil
}

// BulkInsert stores the given passages in one round trip.
func (s *PassageStore) BulkInsert(ctx context.Context, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(passages))
	for i := range passages {
		if err := passages[i].Validate(); err != nil {
			return err
		}
		rows = append(rows, []any{passages[i].Title, passages[i].Text, string(passages[i].Status)})
	}

	_, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"passages"},
		[]string{"title", "text", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert passages: %w", err)
	}
	return nil
}

// Delete removes a passage by id and returns the number of rows removed.
// Deleting an already-deleted row is not an error; callers decide how to
// treat a zero count.
func (s *PassageStore) Delete(ctx context.Context, id int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM passages WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete passage %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// GetByIDs fetches passages by id. Missing ids are silently absent from
// the result; the caller compares lengths if it cares.
func (s *PassageStore) GetByIDs(ctx context.Context, ids []int64) ([]domain.Passage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, title, text, status FROM passages WHERE id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages by ids: %w", err)
	}
	defer rows.Close()

	var passages []domain.Passage
	for rows.Next() {
		var p domain.Passage
		var status string
		if err := rows.Scan(&p.ID, &p.Title, &p.Text, &status); err != nil {
			return nil, fmt.Errorf("failed to scan passage row: %w", err)
		}
		p.Status = domain.PassageStatus(status)
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passage rows: %w", err)
	}

	return passages, nil
}

// UpdateStatus sets the status of every passage in ids.
func (s *PassageStore) UpdateStatus(ctx context.Context, ids []int64, status domain.PassageStatus) error {
	if len(ids) == 0 {
		return nil
	}
	if !status.Valid() {
		return domain.ErrInvalidPassageStatus
	}

	log := logger.FromContext(ctx)
	tag, err := s.db.Exec(ctx,
		`UPDATE passages SET status = $1 WHERE id = ANY($2)`,
		string(status), ids,
	)
	if err != nil {
		return fmt.Errorf("failed to update passage status: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		log.Warn("status update affected fewer rows than requested",
			"requested", len(ids),
			"updated", tag.RowsAffected(),
			"status", status)
	}
	return nil
}

// PromoteStatus moves every passage currently in from to to and returns
// the number of rows moved.
func (s *PassageStore) PromoteStatus(ctx context.Context, from, to domain.PassageStatus) (int64, error) {
	if !from.Valid() || !to.Valid() {
		return 0, domain.ErrInvalidPassageStatus
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE passages SET status = $1 WHERE status = $2`,
		string(to), string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to promote passages from %s to %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

// ListIDsByStatus returns one page of passage ids with the given status,
// ordered by id. An empty page signals the end of the scan.
func (s *PassageStore) ListIDsByStatus(ctx context.Context, status domain.PassageStatus, limit, offset int) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM passages WHERE status = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query passage ids by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan passage id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passage id rows: %w", err)
	}

	return ids, nil
}
