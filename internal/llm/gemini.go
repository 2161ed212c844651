package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiClient runs completions against the Gemini API. Useful when no
// local llama-server is available; the pipeline treats it exactly like the
// local backend.
type GeminiClient struct {
	client      *genai.Client
	model       string
	contextSize int
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey      string
	Model       string
	ContextSize int
}

// NewGeminiClient creates a Gemini-backed generator.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	contextSize := cfg.ContextSize
	if contextSize <= 0 {
		contextSize = 4096
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, contextSize: contextSize}, nil
}

// Generate runs one completion.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, maxTokens int) (*Result, error) {
	start := time.Now()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Temperature:     genai.Ptr[float32](0),
		StopSequences:   []string{"\nEND"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	res := &Result{
		Text:    resp.Text(),
		Elapsed: time.Since(start),
	}
	if len(resp.Candidates) > 0 {
		res.Truncated = resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens
	}
	if resp.UsageMetadata != nil {
		res.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		res.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return res, nil
}

// CountTokens counts prompt tokens via the API.
func (c *GeminiClient) CountTokens(ctx context.Context, prompt string) (int, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := c.client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini token count failed: %w", err)
	}
	return int(resp.TotalTokens), nil
}

// ContextSize returns the effective context window used for budgeting.
// Gemini windows are far larger than local models; the configured value
// keeps prompt budgeting consistent across backends.
func (c *GeminiClient) ContextSize() int { return c.contextSize }
