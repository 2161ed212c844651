package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// stopSequence ends generation at the protocol terminator. The parsers
// tolerate both a present and an absent END line.
var stopSequence = []string{"\nEND"}

// LlamaClient talks to a llama.cpp llama-server over HTTP. The server owns
// the model and its KV state; cache_prompt is disabled so every call starts
// from a fresh context, matching the one-prompt-at-a-time ownership model.
type LlamaClient struct {
	baseURL     string
	threads     int
	contextSize int
	httpClient  *http.Client
}

// LlamaConfig configures a LlamaClient.
type LlamaConfig struct {
	BaseURL     string
	Threads     int
	ContextSize int
	Timeout     time.Duration
}

// NewLlamaClient creates a client for a running llama-server.
func NewLlamaClient(cfg LlamaConfig) (*LlamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llama server URL not configured")
	}
	if cfg.ContextSize <= 0 {
		return nil, fmt.Errorf("invalid context size: %d", cfg.ContextSize)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Local generation has no wall-clock bound of its own; the token
		// budget is the only limit, so leave generous headroom.
		timeout = 30 * time.Minute
	}
	return &LlamaClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		threads:     cfg.Threads,
		contextSize: cfg.ContextSize,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type llamaCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	CachePrompt bool     `json:"cache_prompt"`
	NThreads    int      `json:"n_threads,omitempty"`
}

type llamaCompletionResponse struct {
	Content         string `json:"content"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedWord     bool   `json:"stopped_word"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// Generate runs one greedy completion on the server.
func (c *LlamaClient) Generate(ctx context.Context, prompt string, maxTokens int) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(llamaCompletionRequest{
		Prompt:      prompt,
		NPredict:    maxTokens,
		Temperature: 0, // greedy decoding for reproducible verdicts
		Stop:        stopSequence,
		CachePrompt: false,
		NThreads:    c.threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	var resp llamaCompletionResponse
	if err := c.post(ctx, "/completion", body, &resp); err != nil {
		return nil, err
	}

	return &Result{
		Text:      resp.Content,
		Truncated: resp.StoppedLimit,
		TokensIn:  resp.TokensEvaluated,
		TokensOut: resp.TokensPredicted,
		Elapsed:   time.Since(start),
	}, nil
}

type llamaTokenizeRequest struct {
	Content string `json:"content"`
}

type llamaTokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// CountTokens tokenizes the prompt server-side for an exact count.
func (c *LlamaClient) CountTokens(ctx context.Context, prompt string) (int, error) {
	body, err := json.Marshal(llamaTokenizeRequest{Content: prompt})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tokenize request: %w", err)
	}
	var resp llamaTokenizeResponse
	if err := c.post(ctx, "/tokenize", body, &resp); err != nil {
		return 0, err
	}
	return len(resp.Tokens), nil
}

// ContextSize returns the configured context window.
func (c *LlamaClient) ContextSize() int { return c.contextSize }

func (c *LlamaClient) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama server request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read llama server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode llama server response: %w", err)
	}
	return nil
}
