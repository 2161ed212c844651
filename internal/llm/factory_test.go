package llm

import (
	"context"
	"strings"
	"testing"

	"loopsleuth/internal/config"
)

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.Settings{Backend: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unknown generation backend") {
		t.Errorf("err = %v", err)
	}
}

func TestNewDefaultsToLlama(t *testing.T) {
	gen, err := New(context.Background(), config.Settings{
		ServerURL:   "http://127.0.0.1:8080",
		ContextSize: 4096,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := gen.(*LlamaClient); !ok {
		t.Errorf("backend = %T, want *LlamaClient", gen)
	}
}
