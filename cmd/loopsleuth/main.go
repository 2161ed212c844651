package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"loopsleuth/internal/cache"
	"loopsleuth/internal/config"
	"loopsleuth/internal/llm"
	"loopsleuth/internal/pipeline"
	"loopsleuth/internal/report"
	"loopsleuth/internal/scan"
	"loopsleuth/internal/types"
)

var (
	backend        string
	serverURL      string
	model          string
	apiKeyEnv      string
	threads        int
	maxTokens      int
	contextSize    int
	verbose        bool
	outputPath     string
	details        bool
	skipLarge      int
	noCache        bool
	clearCache     bool
	cacheDir       string
	checksFlag     string
	excludeFlag    string
	configPath     string
	printDefault   bool
	listChecks     bool
	filterFunction string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loopsleuth [PATH]",
	Short: "Detect performance issues in Python code using LLM analysis",
	Long: `LoopSleuth scans Python source for algorithmic performance issues.

Each function runs through a set of configurable checks: a cheap textual
guard filters obvious non-candidates, then an LLM detects the issue,
proposes a rewrite and verifies the resulting diff. Results are cached by
function content so unchanged code is never re-analyzed.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&backend, "backend", "", "generation backend: llama or gemini")
	f.StringVar(&serverURL, "server-url", "", "llama-server base URL")
	f.StringVarP(&model, "model", "m", "", "model name for hosted backends")
	f.StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the API key")
	f.IntVarP(&threads, "threads", "t", 4, "threads requested from the backend")
	f.IntVar(&maxTokens, "max-tokens", 1024, "maximum tokens to generate per response")
	f.IntVar(&contextSize, "context-size", 4096, "context window size (input + output tokens)")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	f.StringVarP(&outputPath, "output", "o", "", "write an HTML report to this file")
	f.BoolVarP(&details, "details", "d", false, "print the detailed report to stdout")
	f.IntVar(&skipLarge, "skip-large", 0, "skip functions larger than this many lines (0 = no limit)")
	f.BoolVar(&noCache, "no-cache", false, "disable result caching")
	f.BoolVar(&clearCache, "clear-cache", false, "clear the cache before running")
	f.StringVar(&cacheDir, "cache-dir", "", "cache directory (default: "+cache.DefaultDir+")")
	f.StringVar(&checksFlag, "checks", "", "comma-separated checks to run (default: all)")
	f.StringVar(&excludeFlag, "exclude", "", "comma-separated checks to exclude")
	f.StringVar(&configPath, "config", "", "path to a custom check configuration file")
	f.BoolVar(&printDefault, "print-default-config", false, "print the built-in configuration and exit")
	f.BoolVar(&listChecks, "list-checks", false, "list available checks and exit")
	f.StringVarP(&filterFunction, "filter-function", "k", "", "only analyze functions whose name contains this (case-insensitive)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if printDefault {
		fmt.Print(config.DefaultDocument)
		return nil
	}

	cfg, err := config.Resolve(configPath, logger)
	if err != nil {
		return err
	}
	applySettings(cmd, &cfg.Settings)

	if listChecks {
		printCheckList(cfg)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("PATH argument is required (unless using --list-checks)")
	}
	path := args[0]

	checks := cfg.SelectChecks(config.ParseCheckKeys(checksFlag), config.ParseCheckKeys(excludeFlag))
	if len(checks) == 0 {
		return fmt.Errorf("no checks selected; use --checks or --list-checks to see what is available")
	}

	runID := uuid.NewString()
	logger.Info("starting analysis run",
		zap.String("run_id", runID),
		zap.String("path", path),
		zap.String("backend", cfg.Settings.Backend),
		zap.Int("checks", len(checks)))

	fmt.Println("Initializing LoopSleuth...")
	gen, err := llm.New(cmd.Context(), cfg.Settings)
	if err != nil {
		return err
	}
	fmt.Printf("   Ready (context: %d tokens)\n\n", gen.ContextSize())

	dir := cacheDir
	if dir == "" {
		dir = cache.DefaultDir
	}
	store, err := cache.Open(dir, !noCache, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if clearCache {
		fmt.Println("Clearing cache...")
		if err := store.Clear(); err != nil {
			return err
		}
	}

	files, err := scan.CollectPythonFiles(path)
	if err != nil {
		return err
	}
	fmt.Printf("Scanning %d Python file(s)...\n", len(files))
	fmt.Printf("Running %d check(s): %s\n", len(checks), joinCheckKeys(checks))

	perFile, total := extractAll(files)
	if filterFunction != "" {
		fmt.Printf("Filtering functions matching: %q\n", filterFunction)
	}
	fmt.Printf("Analyzing %d function(s)...\n\n", total)

	runner := &pipeline.Runner{
		Gen:       gen,
		Cache:     store,
		MaxTokens: cfg.Settings.MaxTokens,
		Log:       logger,
	}
	prog := &progressPrinter{total: total}
	runner.Progress = prog.stage

	var fileResults []types.FileResults
	analyzed, withIssues := 0, 0
	for _, pf := range perFile {
		results, visited, flagged := analyzeFunctions(cmd.Context(), runner, prog, pf.functions, checks, cfg.Dedupe, skipLarge)
		analyzed += visited
		withIssues += flagged
		if len(results) > 0 {
			fileResults = append(fileResults, types.FileResults{FilePath: pf.path, Results: results})
		}
	}

	fmt.Print("\r\x1b[K")
	fmt.Println("Analysis complete!")

	summary := &report.Summary{
		Files:        fileResults,
		FileCount:    len(files),
		Functions:    analyzed,
		WithIssues:   withIssues,
		Checks:       checks,
		Cache:        store,
		CacheEnabled: !noCache,
		Stats:        &runner.Stats,
	}
	summary.PrintSummary(os.Stdout)

	switch {
	case withIssues > 0 && details:
		summary.PrintDetails(os.Stdout)
	case withIssues > 0 && outputPath == "":
		fmt.Println("Tip: use --details to see full analysis or --output FILE to save a report")
		fmt.Println()
	}

	if outputPath != "" {
		if err := summary.WriteHTML(outputPath, runID); err != nil {
			return err
		}
		fmt.Printf("Report saved to: %s\n", outputPath)
	}

	logger.Info("analysis run finished",
		zap.String("run_id", runID),
		zap.Int("functions", analyzed),
		zap.Int("with_issues", withIssues),
		zap.Int("tokens_in", runner.Stats.TokensIn),
		zap.Int("tokens_out", runner.Stats.TokensOut))
	return nil
}

// applySettings merges config settings into flags the user left at their
// defaults; explicit flags always win.
func applySettings(cmd *cobra.Command, s *config.Settings) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if set("backend") {
		s.Backend = backend
	}
	if set("server-url") {
		s.ServerURL = serverURL
	}
	if set("model") {
		s.Model = model
	}
	if set("api-key-env") {
		s.APIKeyEnv = apiKeyEnv
	}
	if set("threads") || s.Threads == 0 {
		s.Threads = threads
	}
	if set("max-tokens") || s.MaxTokens == 0 {
		s.MaxTokens = maxTokens
	}
	if set("context-size") || s.ContextSize == 0 {
		s.ContextSize = contextSize
	}
	if set("skip-large") {
		s.SkipLarge = skipLarge
	}
	skipLarge = s.SkipLarge
	if cacheDir == "" && s.CacheDir != "" {
		cacheDir = s.CacheDir
	}
}

func printCheckList(cfg *config.Config) {
	fmt.Println("Available checks:")
	fmt.Println()
	for _, c := range cfg.Checks {
		fmt.Printf("  %-20s %s\n", c.Key, c.Name)
		if c.Description != "" {
			fmt.Printf("  %-20s %s\n", "", c.Description)
		}
		fmt.Println()
	}
}

func joinCheckKeys(checks []config.Check) string {
	keys := make([]string, len(checks))
	for i, c := range checks {
		keys[i] = c.Key
	}
	return strings.Join(keys, ", ")
}

type scannedFile struct {
	path      string
	functions []*types.FunctionInfo
}

// extractAll scans every file up front so progress can show a total.
// Unparseable or unreadable files are reported and skipped.
func extractAll(files []string) ([]scannedFile, int) {
	var out []scannedFile
	total := 0
	filter := strings.ToLower(filterFunction)
	for _, path := range files {
		functions, err := scan.ExtractFile(path)
		if err != nil {
			logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		if filter != "" {
			kept := functions[:0]
			for _, fn := range functions {
				if strings.Contains(strings.ToLower(fn.Name), filter) {
					kept = append(kept, fn)
				}
			}
			functions = kept
		}
		if len(functions) == 0 {
			continue
		}
		total += len(functions)
		out = append(out, scannedFile{path: path, functions: functions})
	}
	return out, total
}

// analyzeFunctions runs one file's functions through the runner. Functions
// above skipLarge lines are not analyzed but still count toward the visited
// total, so the summary's function count covers everything scanned.
func analyzeFunctions(ctx context.Context, runner *pipeline.Runner, prog *progressPrinter, functions []*types.FunctionInfo, checks []config.Check, rules []config.DedupeRule, skipLarge int) (results []types.AnalysisResult, visited, withIssues int) {
	for _, fn := range functions {
		if prog != nil {
			prog.nextFunction(fn)
		}
		visited++
		if skipLarge > 0 && len(strings.Split(fn.Source, "\n")) > skipLarge {
			if prog != nil {
				prog.skipped()
			}
			continue
		}
		res := runner.RunFunction(ctx, fn, checks, rules)
		for _, ce := range res.Errors {
			runner.Log.Warn("check failed",
				zap.String("check", ce.CheckKey),
				zap.String("function", fn.Name),
				zap.Error(ce.Err))
		}
		if res.HasIssues() {
			withIssues++
			if prog != nil {
				prog.issues++
			}
		}
		if len(res.Results) > 0 {
			results = append(results, res)
		}
	}
	return results, visited, withIssues
}
