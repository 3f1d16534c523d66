// Package evaluation grades a user's answers to a generated question
// set and records the verdicts in the session's chat log.
package evaluation

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
	"github.com/anhdng/ielts-pipeline/internal/task"
)

// Payload is the body of an evaluation job.
type Payload struct {
	Session   string   `json:"session"`
	Passage   string   `json:"passage"`
	Questions []string `json:"questions"`
	Answers   []string `json:"answers"`
}

// Verdict is the grading result for one question.
type Verdict struct {
	Question string `json:"question"`
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// completer generates a chat completion.
type completer interface {
	Complete(ctx context.Context, turns []gemini.Turn) (string, error)
}

// logAppender buffers conversation turns.
type logAppender interface {
	Append(ctx context.Context, session string, entry domain.ChatLogEntry) error
}

// Service handles evaluation jobs.
type Service struct {
	completer completer
	logs      logAppender
	clock     func() time.Time
}

// NewService creates a Service.
func NewService(completer completer, logs logAppender) *Service {
	return &Service{completer: completer, logs: logs, clock: time.Now}
}

// HandleEvaluation is the evaluation queue handler.
func (s *Service) HandleEvaluation(ctx context.Context, payload []byte) task.Result {
	log := logger.FromContext(ctx)

	var job Payload
	if err := json.Unmarshal(payload, &job); err != nil {
		return task.Permanent(fmt.Errorf("malformed evaluation payload: %w", err))
	}
	if job.Passage == "" || len(job.Questions) == 0 {
		return task.Permanent(fmt.Errorf("evaluation payload missing passage or questions"))
	}
	if len(job.Answers) != len(job.Questions) {
		return task.Permanent(fmt.Errorf("evaluation payload has %d answers for %d questions",
			len(job.Answers), len(job.Questions)))
	}
	log = log.With("session", job.Session)

	reply, err := s.completer.Complete(ctx, []gemini.Turn{
		{Role: gemini.RoleUser, Text: buildPrompt(job)},
	})
	if err != nil {
		if errors.Is(err, gemini.ErrContentBlocked) || errors.Is(err, gemini.ErrInvalidResponse) {
			log.Error("evaluation rejected", "error", err)
			return task.Permanent(err)
		}
		log.Error("evaluation failed", "error", err)
		return task.Retry(err)
	}

	verdicts, err := parseVerdicts(reply, len(job.Questions))
	if err != nil {
		log.Error("model returned malformed verdicts", "error", err)
		return task.Permanent(err)
	}

	s.record(ctx, job.Session, reply)

	correct := 0
	for _, v := range verdicts {
		if v.Correct {
			correct++
		}
	}
	log.Info("evaluated answers", "questions", len(verdicts), "correct", correct)
	return task.Success()
}

// record appends the grading reply to the session's chat log, best
// effort.
func (s *Service) record(ctx context.Context, session, message string) {
	if session == "" {
		return
	}
	err := s.logs.Append(ctx, session, domain.ChatLogEntry{
		Timestamp: s.clock().UTC(),
		Actor:     "assistant",
		Message:   message,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to buffer chat log entry",
			"session", session, "error", err)
	}
}

// buildPrompt asks for per-question verdicts as strict JSON.
func buildPrompt(job Payload) string {
	var sb strings.Builder
	sb.WriteString("You are an IELTS reading examiner. Grade the user's answers ")
	sb.WriteString("against the passage below.\n\n")
	sb.WriteString("Respond with JSON only, no surrounding prose: a list in this shape:\n")
	sb.WriteString(`[{"question": "...", "correct": true, "feedback": "..."}]`)
	sb.WriteString("\n\nPassage:\n")
	sb.WriteString(job.Passage)
	sb.WriteString("\n\n")
	for i, q := range job.Questions {
		fmt.Fprintf(&sb, "Question %d: %s\nAnswer %d: %s\n", i+1, q, i+1, job.Answers[i])
	}
	return sb.String()
}

// parseVerdicts decodes the model's JSON reply and checks it covers
// every question.
func parseVerdicts(reply string, want int) ([]Verdict, error) {
	var verdicts []Verdict
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &verdicts); err != nil {
		return nil, fmt.Errorf("%w: %v", gemini.ErrInvalidResponse, err)
	}
	if len(verdicts) != want {
		return nil, fmt.Errorf("%w: got %d verdicts for %d questions",
			gemini.ErrInvalidResponse, len(verdicts), want)
	}
	return verdicts, nil
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
