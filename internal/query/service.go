// Package query generates reading passages and question sets from a
// topic query, grounding the generation in retrieved passage context
// when the vector index has a close enough match.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anhdng/ielts-pipeline/internal/domain"
	"github.com/anhdng/ielts-pipeline/internal/platform/gemini"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/platform/qdrant"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// Retrieval parameters: how many neighbours to pull and how similar the
// best one must be before its text is trusted as context.
const (
	retrievalLimit = 3
	scoreThreshold = 0.85
	actorUser      = "user"
	actorAssistant = "assistant"
)

// Payload is the body of a query job.
type Payload struct {
	Session string `json:"session"`
	Query   string `json:"query"`
}

// Question is one generated comprehension question.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
}

// Reading is the generated passage plus its question set.
type Reading struct {
	Passage   string     `json:"passage"`
	Questions []Question `json:"questions"`
}

// embedder produces an embedding vector for one text.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// searcher is the slice of the vector index the service reads from.
type searcher interface {
	Search(ctx context.Context, vector []float32, limit uint64) ([]qdrant.Hit, error)
}

// completer generates a chat completion.
type completer interface {
	Complete(ctx context.Context, turns []gemini.Turn) (string, error)
}

// logAppender buffers conversation turns.
type logAppender interface {
	Append(ctx context.Context, session string, entry domain.ChatLogEntry) error
}

// Service handles query jobs.
type Service struct {
	embedder  embedder
	index     searcher
	completer completer
	logs      logAppender
	clock     func() time.Time
}

// NewService creates a Service.
func NewService(embedder embedder, index searcher, completer completer, logs logAppender) *Service {
	return &Service{
		embedder:  embedder,
		index:     index,
		completer: completer,
		logs:      logs,
		clock:     time.Now,
	}
}

// HandleQuery is the query queue handler: retrieve, generate, parse,
// and record the exchange in the session's chat log.
func (s *Service) HandleQuery(ctx context.Context, payload []byte) task.Result {
	log := logger.FromContext(ctx)

	var job Payload
	if err := json.Unmarshal(payload, &job); err != nil {
		return task.Permanent(fmt.Errorf("malformed query payload: %w", err))
	}
	if strings.TrimSpace(job.Query) == "" {
		return task.Permanent(fmt.Errorf("query payload missing query text"))
	}
	log = log.With("session", job.Session)

	contextText, err := s.retrieveContext(ctx, job.Query)
	if err != nil {
		log.Error("context retrieval failed", "error", err)
		return task.Retry(err)
	}

	reply, err := s.completer.Complete(ctx, []gemini.Turn{
		{Role: gemini.RoleUser, Text: buildPrompt(job.Query, contextText)},
	})
	if err != nil {
		if errors.Is(err, gemini.ErrContentBlocked) || errors.Is(err, gemini.ErrInvalidResponse) {
			log.Error("generation rejected", "error", err)
			return task.Permanent(err)
		}
		log.Error("generation failed", "error", err)
		return task.Retry(err)
	}

	reading, err := parseReading(reply)
	if err != nil {
		log.Error("model returned malformed reading", "error", err)
		return task.Permanent(err)
	}

	s.record(ctx, job.Session, actorUser, job.Query)
	s.record(ctx, job.Session, actorAssistant, reply)

	log.Info("generated reading",
		"questions", len(reading.Questions),
		"context_used", contextText != "")
	return task.Success()
}

// retrieveContext embeds the query and searches the index. The
// retrieved text is used only when the best match clears the score
// threshold; a weak match is worse than no context.
func (s *Service) retrieveContext(ctx context.Context, query string) (string, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}

	hits, err := s.index.Search(ctx, vector, retrievalLimit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 || hits[0].Score < scoreThreshold {
		return "", nil
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Text != "" {
			texts = append(texts, h.Text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

// record appends one turn to the session's chat log. Logging is best
// effort here; a buffered-log failure never fails the query itself.
func (s *Service) record(ctx context.Context, session, actor, message string) {
	if session == "" {
		return
	}
	err := s.logs.Append(ctx, session, domain.ChatLogEntry{
		Timestamp: s.clock().UTC(),
		Actor:     actor,
		Message:   message,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to buffer chat log entry",
			"session", session, "error", err)
	}
}

// buildPrompt asks for a reading passage and questions as strict JSON.
func buildPrompt(query, contextText string) string {
	var sb strings.Builder
	sb.WriteString("You are an IELTS reading tutor. Write an academic reading passage ")
	sb.WriteString("of roughly 250 words about the topic below, followed by exactly 5 ")
	sb.WriteString("comprehension questions with answers.\n\n")
	sb.WriteString("Respond with JSON only, no surrounding prose, in this shape:\n")
	sb.WriteString(`{"passage": "...", "questions": [{"question": "...", "options": ["..."], "answer": "..."}]}`)
	sb.WriteString("\n\nTopic: ")
	sb.WriteString(query)
	if contextText != "" {
		sb.WriteString("\n\nBase the passage on this source material:\n")
		sb.WriteString(contextText)
	}
	return sb.String()
}

// parseReading decodes the model's JSON reply, tolerating a fenced code
// block around it.
func parseReading(reply string) (Reading, error) {
	var reading Reading
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &reading); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", gemini.ErrInvalidResponse, err)
	}
	if reading.Passage == "" || len(reading.Questions) == 0 {
		return Reading{}, fmt.Errorf("%w: missing passage or questions", gemini.ErrInvalidResponse)
	}
	return reading, nil
}

// stripCodeFence removes a markdown code fence if the model wrapped its
// JSON in one.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
