package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"loopsleuth/internal/cache"
	"loopsleuth/internal/config"
	"loopsleuth/internal/llm"
	"loopsleuth/internal/pipeline"
	"loopsleuth/internal/types"
)

type cleanGen struct{ calls int }

func (g *cleanGen) Generate(context.Context, string, int) (*llm.Result, error) {
	g.calls++
	return &llm.Result{Text: "VERDICT: OK\nEND", TokensIn: 5, TokensOut: 5, Elapsed: time.Millisecond}, nil
}

func (g *cleanGen) CountTokens(context.Context, string) (int, error) { return 20, nil }

func (g *cleanGen) ContextSize() int { return 4096 }

var _ llm.Generator = (*cleanGen)(nil)

func TestAnalyzeFunctionsCountsSkipped(t *testing.T) {
	store, err := cache.Open(t.TempDir(), true, zap.NewNop())
	if err != nil {
		t.Fatalf("cache open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gen := &cleanGen{}
	runner := &pipeline.Runner{Gen: gen, Cache: store, MaxTokens: 256, Log: zap.NewNop()}

	small := &types.FunctionInfo{
		Name:              "small",
		Source:            "def small():\n    return 1",
		SourceNoDocstring: "def small():\n    return 1",
		FilePath:          "a.py",
		LineNumber:        1,
	}
	bigSrc := "def big(xs):\n    a = 1\n    b = 2\n    c = 3\n    d = 4\n    return a + b + c + d"
	big := &types.FunctionInfo{
		Name:              "big",
		Source:            bigSrc,
		SourceNoDocstring: bigSrc,
		FilePath:          "a.py",
		LineNumber:        4,
	}

	checks := []config.Check{{
		Key:             "quadratic",
		Name:            "Quadratic Complexity",
		Keyword:         "QUADRATIC",
		DetectionPrompt: "DETECT {function_source}",
	}}

	results, visited, withIssues := analyzeFunctions(context.Background(), runner, nil, []*types.FunctionInfo{small, big}, checks, nil, 4)

	if visited != 2 {
		t.Errorf("visited = %d, want 2 (skipped functions still count)", visited)
	}
	if withIssues != 0 {
		t.Errorf("withIssues = %d, want 0", withIssues)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (only the small function is analyzed)", len(results))
	}
	if results[0].Function.Name != "small" {
		t.Errorf("analyzed = %q, want small", results[0].Function.Name)
	}
	if gen.calls != 1 {
		t.Errorf("generation calls = %d, want 1", gen.calls)
	}
}
