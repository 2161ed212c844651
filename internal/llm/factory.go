package llm

import (
	"context"
	"fmt"
	"os"

	"loopsleuth/internal/config"
)

// New builds the configured Generator backend.
func New(ctx context.Context, s config.Settings) (Generator, error) {
	switch s.Backend {
	case "", "llama":
		return NewLlamaClient(LlamaConfig{
			BaseURL:     s.ServerURL,
			Threads:     s.Threads,
			ContextSize: s.ContextSize,
		})
	case "gemini":
		keyEnv := s.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "GEMINI_API_KEY"
		}
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      os.Getenv(keyEnv),
			Model:       s.Model,
			ContextSize: s.ContextSize,
		})
	default:
		return nil, fmt.Errorf("unknown generation backend: %s", s.Backend)
	}
}
