// Package llm wraps the generative text-completion collaborator behind a
// small Generator interface and parses its line-oriented response protocol.
// The engine itself is opaque: both backends live out of process.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one generation call.
type Result struct {
	Text      string
	Truncated bool // token budget exhausted before a natural stop
	TokensIn  int
	TokensOut int
	Elapsed   time.Duration
}

// Generator is a synchronous text-completion backend. Implementations are
// single-owner resources: one full prompt completes before the next starts.
type Generator interface {
	// Generate runs one completion bounded by maxTokens output tokens.
	Generate(ctx context.Context, prompt string, maxTokens int) (*Result, error)
	// CountTokens returns the prompt's token length as the backend counts it.
	CountTokens(ctx context.Context, prompt string) (int, error)
	// ContextSize returns the model's context window in tokens.
	ContextSize() int
}

// GenerationError is a recoverable, check-scoped backend failure. The
// pipeline records it and moves on; nothing is cached for the pair.
type GenerationError struct {
	Stage string // detect, solve, verify
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// TokenStats accumulates token usage across a run.
type TokenStats struct {
	TokensIn       int
	TokensOut      int
	GenerationTime time.Duration
}

// Add merges another call's usage into the running totals.
func (s *TokenStats) Add(r *Result) {
	if r == nil {
		return
	}
	s.TokensIn += r.TokensIn
	s.TokensOut += r.TokensOut
	s.GenerationTime += r.Elapsed
}

// TokensPerSecond returns the output token rate over the accumulated
// generation time.
func (s *TokenStats) TokensPerSecond() float64 {
	secs := s.GenerationTime.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.TokensOut) / secs
}
