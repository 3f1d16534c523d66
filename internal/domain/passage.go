package domain

import (
	"errors"
)

// PassageStatus represents the processing state of a passage row.
type PassageStatus string

// Possible passage status values. A row is created as a placeholder in
// StatusProcessing, replaced atomically by chunk rows, and then promoted
// through the embedding lifecycle by the vector sync pipeline.
const (
	StatusProcessing       PassageStatus = "processing"
	StatusProcessedChunk   PassageStatus = "processed_chunk"
	StatusEmptyContent     PassageStatus = "empty_content"
	StatusExtractionFailed PassageStatus = "extraction_failed"
	StatusPendingEmbedding PassageStatus = "pending_embedding"
	StatusEmbedded         PassageStatus = "embedded"
	StatusEmbeddingFailed  PassageStatus = "embedding_failed"
)

// Common validation errors for Passage
var (
	ErrEmptyPassageTitle    = errors.New("passage title cannot be empty")
	ErrInvalidPassageStatus = errors.New("invalid passage status")
)

// Passage represents a stored reading passage or one of its chunks.
// A logical source document maps to either zero rows (not yet processed)
// or N>=1 chunk rows; it never coexists with its placeholder row.
type Passage struct {
	ID     int64         `json:"id"`
	Title  string        `json:"title"`
	Text   string        `json:"text"`
	Status PassageStatus `json:"status"`
}

// Valid reports whether the status is a member of the closed status set.
func (s PassageStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusProcessedChunk, StatusEmptyContent,
		StatusExtractionFailed, StatusPendingEmbedding, StatusEmbedded,
		StatusEmbeddingFailed:
		return true
	default:
		return false
	}
}

// Validate checks if the Passage has valid data.
func (p *Passage) Validate() error {
	if p.Title == "" {
		return ErrEmptyPassageTitle
	}
	if !p.Status.Valid() {
		return ErrInvalidPassageStatus
	}
	return nil
}
