// Package gemini implements the analysis and ingestion collaborators on the
// Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// generator is the slice of the genai client the collaborators use.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ErrEmptyResponse is returned when the model answers with no candidates.
var ErrEmptyResponse = errors.New("gemini returned no candidates")

// Spec selects the model and sampling for one collaborator role.
type Spec struct {
	Name              string
	Temperature       float32
	SystemInstruction string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// Model is a text-completion collaborator bound to one model name, temperature
// and system instruction.
type Model struct {
	gen    generator
	spec   Spec
	logger *slog.Logger
}

type ModelOption func(*Model)

func WithModelLogger(logger *slog.Logger) ModelOption {
	return func(m *Model) {
		m.logger = logger
	}
}

func NewModel(client *genai.Client, spec Spec, opts ...ModelOption) *Model {
	return newModel(client.Models, spec, opts...)
}

func newModel(gen generator, spec Spec, opts ...ModelOption) *Model {
	m := &Model{gen: gen, spec: spec, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Name() string {
	return m.spec.Name
}

func (m *Model) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(m.spec.Temperature),
	}
	if m.spec.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(m.spec.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

// Complete sends one user prompt and returns the text of the first candidate.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := m.gen.GenerateContent(ctx, m.spec.Name, contents, m.config())
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", m.spec.Name, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", m.spec.Name, err)
	}
	m.logger.DebugContext(ctx, "gemini completion",
		"model", m.spec.Name,
		"prompt_chars", len(prompt),
		"reply_chars", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Text()), nil
}
