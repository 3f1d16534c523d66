package segment

import (
	"fmt"
	"strings"

	"github.com/anhdng/ielts-pipeline/internal/domain"
)

// Chunk splits body into overlapping windows of size chars advancing by
// (size - overlap). Each non-blank window becomes a passage titled
// "{title} (Chunk {n})" with 1-based numbering in emission order. The
// loop stops when the advance would make no progress, which guards an
// overlap >= size misconfiguration.
func Chunk(title, body string, size, overlap int) []domain.Passage {
	if size <= 0 {
		return nil
	}

	var chunks []domain.Passage
	textLen := len(body)

	for start := 0; start < textLen; {
		end := start + size
		if end > textLen {
			end = textLen
		}
		window := body[start:end]

		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, domain.Passage{
				Title:  fmt.Sprintf("%s (Chunk %d)", title, len(chunks)+1),
				Text:   window,
				Status: domain.StatusProcessedChunk,
			})
		}

		next := start + size - overlap
		if next <= start {
			break
		}
		start = next
	}

	return chunks
}
