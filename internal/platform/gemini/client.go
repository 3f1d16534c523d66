// Package gemini wraps the Gemini API for the two model calls the
// pipeline makes: embedding passage text for the vector index and
// generating chat completions for question generation and answer
// evaluation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/anhdng/ielts-pipeline/internal/config"
)

// Error definitions for the gemini package. Callers use these to
// separate malformed model output (not retryable) from API failures
// (retryable).
var (
	// ErrEmptyInput is returned when there is no text to send.
	ErrEmptyInput = errors.New("input text cannot be empty")

	// ErrInvalidResponse is returned when the model returns no usable
	// content.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrContentBlocked is returned when the safety filters block the
	// generation.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// Role values for chat turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one message in a chat history.
type Turn struct {
	Role string
	Text string
}

// Client calls the Gemini API.
type Client struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

// New creates a Client from configuration.
func New(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		client:         client,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel,
		genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidResponse)
	}

	return resp.Embeddings[0].Values, nil
}

// Complete sends a chat history to the model and returns the text of
// its reply.
func (c *Client) Complete(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", ErrEmptyInput
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion text", ErrInvalidResponse)
	}

	return sb.String(), nil
}
