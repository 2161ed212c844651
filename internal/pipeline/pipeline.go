// Package pipeline drives the per-(function, check) state machine:
// guard, cache lookup, detection, solution, diff validation, verification,
// cache write. Generation calls sit behind a fault boundary so one bad
// prompt never takes down a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"loopsleuth/internal/cache"
	"loopsleuth/internal/config"
	"loopsleuth/internal/dedupe"
	"loopsleuth/internal/fix"
	"loopsleuth/internal/guard"
	"loopsleuth/internal/llm"
	"loopsleuth/internal/types"
)

// safetyMargin keeps a few tokens of headroom between prompt and output
// budget so generation never runs out of context mid-response.
const safetyMargin = 100

// ErrPromptTooLarge reports that a prompt cannot fit in the context window
// alongside the requested output budget.
var ErrPromptTooLarge = errors.New("prompt too large for context window")

// Stage identifies what the pipeline is doing with the current check,
// for progress display.
type Stage int

const (
	StageGuardSkip Stage = iota
	StageCacheHit
	StageDetect
	StageSolve
	StageVerify
	StageError
)

// Runner executes checks against functions. Progress, when set, is called
// before each stage transition.
type Runner struct {
	Gen       llm.Generator
	Cache     *cache.Cache
	MaxTokens int
	Log       *zap.Logger
	Stats     llm.TokenStats
	Progress  func(checkKey string, stage Stage)
}

func (r *Runner) progress(key string, stage Stage) {
	if r.Progress != nil {
		r.Progress(key, stage)
	}
}

// generate runs one generation call with the token budget pre-check and a
// panic boundary. All failures come back as *llm.GenerationError.
func (r *Runner) generate(ctx context.Context, stage, prompt string) (res *llm.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &llm.GenerationError{Stage: stage, Err: fmt.Errorf("generation panic: %v", p)}
		}
	}()

	promptTokens, err := r.Gen.CountTokens(ctx, prompt)
	if err != nil {
		return nil, &llm.GenerationError{Stage: stage, Err: err}
	}

	ctxSize := r.Gen.ContextSize()
	if promptTokens > ctxSize-r.MaxTokens-safetyMargin {
		return nil, &llm.GenerationError{Stage: stage, Err: fmt.Errorf(
			"%w: %d prompt tokens, context %d, output budget %d",
			ErrPromptTooLarge, promptTokens, ctxSize, r.MaxTokens)}
	}

	maxTokens := r.MaxTokens
	if avail := ctxSize - promptTokens - safetyMargin; avail < maxTokens {
		maxTokens = avail
	}

	res, err = r.Gen.Generate(ctx, prompt, maxTokens)
	if err != nil {
		return nil, &llm.GenerationError{Stage: stage, Err: err}
	}
	r.Stats.Add(res)

	if res.Truncated {
		res.Text = llm.RepairTruncated(res.Text)
	}
	return res, nil
}

// RunCheck executes one check against one function and returns its result.
// Every terminal path writes exactly one cache entry, except a detection
// fault: that writes nothing so the check is retried on the next run.
func (r *Runner) RunCheck(ctx context.Context, fn *types.FunctionInfo, check *config.Check) (*types.CheckResult, error) {
	if reason, skip := guard.Evaluate(&check.Guard, fn.SourceNoDocstring); skip {
		r.progress(check.Key, StageGuardSkip)
		analysis := fmt.Sprintf("VERDICT: OK\nCONFIDENCE: 0.00\nDETAIL: Skipped by guard (%s)\nEND", reason)
		if err := r.Cache.Put(fn, check.Key, false, analysis, ""); err != nil {
			r.Log.Debug("cache write failed", zap.String("check", check.Key), zap.Error(err))
		}
		return &types.CheckResult{
			CheckKey:  check.Key,
			CheckName: check.Name,
			Analysis:  analysis,
		}, nil
	}

	if cached, err := r.Cache.Get(fn, check.Key); err != nil {
		r.Log.Debug("cache read failed", zap.String("check", check.Key), zap.Error(err))
	} else if cached != nil {
		r.progress(check.Key, StageCacheHit)
		return &types.CheckResult{
			CheckKey:  check.Key,
			CheckName: check.Name,
			HasIssue:  cached.HasIssue,
			Analysis:  cached.Analysis,
			Solution:  cached.Solution,
		}, nil
	}

	r.progress(check.Key, StageDetect)
	detectRes, err := r.generate(ctx, "detect", check.FormatDetectionPrompt(fn))
	if err != nil {
		r.progress(check.Key, StageError)
		r.Log.Debug("detection failed",
			zap.String("check", check.Key),
			zap.String("function", fn.Name),
			zap.Error(err))
		return nil, err
	}

	analysis := detectRes.Text
	detection := llm.ParseDetection(check.Keyword, analysis)
	if detection.Confidence != nil {
		analysis = fmt.Sprintf("%s\n[Confidence: %.2f]", analysis, *detection.Confidence)
	}

	if !detection.HasIssue {
		if err := r.Cache.Put(fn, check.Key, false, analysis, ""); err != nil {
			r.Log.Debug("cache write failed", zap.String("check", check.Key), zap.Error(err))
		}
		return &types.CheckResult{
			CheckKey:  check.Key,
			CheckName: check.Name,
			Analysis:  analysis,
		}, nil
	}

	solution, ok := r.buildSolution(ctx, fn, check, &analysis)
	if !ok {
		// analysis now carries the rejection note; finding stands without a fix.
		if err := r.Cache.Put(fn, check.Key, true, analysis, ""); err != nil {
			r.Log.Debug("cache write failed", zap.String("check", check.Key), zap.Error(err))
		}
		return &types.CheckResult{
			CheckKey:  check.Key,
			CheckName: check.Name,
			HasIssue:  true,
			Analysis:  analysis,
		}, nil
	}

	if err := r.Cache.Put(fn, check.Key, true, analysis, solution); err != nil {
		r.Log.Debug("cache write failed", zap.String("check", check.Key), zap.Error(err))
	}
	return &types.CheckResult{
		CheckKey:  check.Key,
		CheckName: check.Name,
		HasIssue:  true,
		Analysis:  analysis,
		Solution:  solution,
	}, nil
}

// buildSolution runs the solve, validate and verify stages for a flagged
// function. On any rejection it appends the reason to analysis and returns
// ok=false; solve and verify faults degrade rather than fail the check.
func (r *Runner) buildSolution(ctx context.Context, fn *types.FunctionInfo, check *config.Check, analysis *string) (string, bool) {
	r.progress(check.Key, StageSolve)

	reject := func(format string, args ...any) (string, bool) {
		reason := fmt.Sprintf(format, args...)
		r.Log.Debug("solution rejected",
			zap.String("check", check.Key),
			zap.String("function", fn.Name),
			zap.String("reason", reason))
		*analysis = fmt.Sprintf("%s\n\n[%s]", *analysis, reason)
		return "", false
	}

	solveRes, err := r.generate(ctx, "solve", check.FormatSolutionPrompt(fn))
	if err != nil {
		return reject("No safe change suggested: Could not extract optimized function")
	}

	optimized, ok := fix.ExtractFix(solveRes.Text)
	if !ok {
		return reject("No safe change suggested: Could not extract optimized function")
	}
	if err := fix.ValidateOptimization(fn.SourceNoDocstring, optimized); err != nil {
		return reject("No safe change suggested: %s", err)
	}

	diff := fix.RenderDiff(fn.SourceNoDocstring, optimized)
	solution := fmt.Sprintf("```diff\n%s\n```", diff)
	if !fix.ValidateDiffText(solution, fn.SourceNoDocstring) {
		return reject("No safe change suggested: diff failed validation")
	}

	if strings.TrimSpace(check.VerifierPrompt) != "" {
		r.progress(check.Key, StageVerify)
		verifyRes, err := r.generate(ctx, "verify", check.FormatVerifierPrompt(fn, solution))
		if err != nil {
			// Verifier unavailable; keep the validated solution.
			r.Log.Debug("verifier failed, accepting solution",
				zap.String("check", check.Key), zap.Error(err))
			return solution, true
		}
		if verification := llm.ParseVerification(verifyRes.Text); !verification.Valid {
			return reject("Verifier rejected: %s", verification.Reason)
		}
	}

	return solution, true
}

// RunFunction executes the selected checks against one function, applies the
// dedupe rules and collects per-check errors without aborting the rest.
func (r *Runner) RunFunction(ctx context.Context, fn *types.FunctionInfo, checks []config.Check, rules []config.DedupeRule) types.AnalysisResult {
	out := types.AnalysisResult{Function: *fn}
	for i := range checks {
		check := &checks[i]
		res, err := r.RunCheck(ctx, fn, check)
		if err != nil {
			out.Errors = append(out.Errors, types.CheckError{CheckKey: check.Key, Err: err})
			continue
		}
		out.Results = append(out.Results, *res)
	}
	out.Results = dedupe.Apply(out.Results, rules)
	return out
}
