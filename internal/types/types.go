// Package types holds the shared data model passed between the scanner,
// the pipeline and the reporters.
package types

// FunctionInfo describes one extracted function. It is immutable once
// produced by the scanner; the cache identity is the hash of Source (the
// docstring-bearing variant), while prompts are built from
// SourceNoDocstring.
type FunctionInfo struct {
	Name              string
	Source            string
	SourceNoDocstring string
	FilePath          string
	LineNumber        int    // 1-based line of the def statement
	ClassName         string // empty for module-level functions
}

// DisplayName returns "Class::Name" for methods and the bare name otherwise.
func (f *FunctionInfo) DisplayName() string {
	if f.ClassName != "" {
		return f.ClassName + "::" + f.Name
	}
	return f.Name
}

// CheckResult is the outcome of running one check against one function.
type CheckResult struct {
	CheckKey  string
	CheckName string
	HasIssue  bool
	Analysis  string
	Solution  string // fenced diff block, empty when no actionable fix
}

// CheckError records a recoverable per-check failure. The run continues;
// the pair is retried on a future run because nothing was cached.
type CheckError struct {
	CheckKey string
	Err      error
}

// AnalysisResult aggregates all check outcomes for one function, after
// dedupe rules have been applied.
type AnalysisResult struct {
	Function FunctionInfo
	Results  []CheckResult
	Errors   []CheckError
}

// HasIssues reports whether any surviving check result flags an issue.
func (r *AnalysisResult) HasIssues() bool {
	for _, cr := range r.Results {
		if cr.HasIssue {
			return true
		}
	}
	return false
}

// FileResults groups the analysis results of a single source file.
type FileResults struct {
	FilePath string
	Results  []AnalysisResult
}
