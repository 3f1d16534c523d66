package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// processedFiles is the slice of the processed-file store the scanner
// needs.
type processedFiles interface {
	ListFilenames(ctx context.Context) (map[string]struct{}, error)
}

// Scanner finds source PDFs that have no processed-file marker yet and
// dispatches one preprocessing job per file.
type Scanner struct {
	files     processedFiles
	publisher task.Publisher
}

// NewScanner creates a Scanner.
func NewScanner(files processedFiles, publisher task.Publisher) *Scanner {
	return &Scanner{files: files, publisher: publisher}
}

// Scan lists *.pdf files (case-insensitive) in folder, subtracts the
// already-processed set, and publishes a job for each remainder. A file
// that fails to dispatch is logged and skipped; the returned count is
// the number of jobs actually accepted by the broker.
func (s *Scanner) Scan(ctx context.Context, folder string) (int, error) {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, fmt.Errorf("failed to read source folder %q: %w", folder, err)
	}

	processed, err := s.files.ListFilenames(ctx)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		if _, done := processed[name]; done {
			continue
		}

		payload, err := json.Marshal(ProcessDocumentPayload{Path: filepath.Join(folder, name)})
		if err != nil {
			log.Error("failed to encode preprocessing job", "file", name, "error", err)
			continue
		}
		if err := s.publisher.Publish(ctx, task.QueuePreprocessing, payload); err != nil {
			log.Error("failed to dispatch preprocessing job", "file", name, "error", err)
			continue
		}

		log.Info("dispatched preprocessing job", "file", name)
		dispatched++
	}

	log.Info("document scan complete",
		"found", len(entries),
		"dispatched", dispatched,
		"already_processed", len(processed))
	return dispatched, nil
}
