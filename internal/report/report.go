// Package report renders run results: the console summary, the detailed
// per-issue view and the HTML file report.
package report

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"loopsleuth/internal/cache"
	"loopsleuth/internal/config"
	"loopsleuth/internal/llm"
	"loopsleuth/internal/types"
)

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.NormalBorder()).
			Padding(0, 2)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Summary holds everything the end-of-run views need.
type Summary struct {
	Files        []types.FileResults
	FileCount    int
	Functions    int
	WithIssues   int
	Checks       []config.Check
	Cache        *cache.Cache
	CacheEnabled bool
	Stats        *llm.TokenStats
}

func (s *Summary) checkKeys() string {
	keys := make([]string, len(s.Checks))
	for i, c := range s.Checks {
		keys[i] = c.Key
	}
	return strings.Join(keys, ", ")
}

// PrintSummary writes the run summary to w.
func (s *Summary) PrintSummary(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("LOOPSLEUTH ANALYSIS SUMMARY"))
	fmt.Fprintln(w)

	if s.FileCount > 1 {
		fmt.Fprintf(w, "Files analyzed: %d\n", s.FileCount)
	}
	fmt.Fprintf(w, "Total functions analyzed: %d\n", s.Functions)
	fmt.Fprintf(w, "Checks run: %d (%s)\n", len(s.Checks), s.checkKeys())
	fmt.Fprintf(w, "Functions with issues: %d\n", s.WithIssues)
	fmt.Fprintf(w, "Functions clean: %d\n", s.Functions-s.WithIssues)

	if s.CacheEnabled {
		if total, withIssues, err := s.Cache.Stats(); err == nil && total > 0 {
			expected := s.Functions * len(s.Checks)
			fmt.Fprintf(w, "Cache entries: %d (expected: %d = %d functions x %d checks), %d with issues\n",
				total, expected, s.Functions, len(s.Checks), withIssues)
		}
	}

	if s.WithIssues > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("ISSUES DETECTED:"))
		if s.FileCount > 1 {
			s.printIssuesByFile(w)
		} else {
			s.printIssuesFlat(w)
		}
	}

	if s.Stats != nil && s.Stats.TokensOut > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Token usage:")
		fmt.Fprintf(w, "  Input:  %d tokens\n", s.Stats.TokensIn)
		fmt.Fprintf(w, "  Output: %d tokens\n", s.Stats.TokensOut)
		fmt.Fprintf(w, "  Speed:  %.1f tokens/sec\n", s.Stats.TokensPerSecond())
		fmt.Fprintf(w, "  Time:   %.1fs\n", s.Stats.GenerationTime.Seconds())
	}
	fmt.Fprintln(w)
}

func (s *Summary) printIssuesByFile(w io.Writer) {
	for _, fr := range s.Files {
		printed := false
		for i := range fr.Results {
			r := &fr.Results[i]
			if !r.HasIssues() {
				continue
			}
			if !printed {
				fmt.Fprintf(w, "\n  %s\n", fr.FilePath)
				printed = true
			}
			fmt.Fprintf(w, "     - %s (line %d)\n", r.Function.DisplayName(), r.Function.LineNumber)
			for _, cr := range r.Results {
				if cr.HasIssue {
					fmt.Fprintf(w, "       - %s\n", cr.CheckName)
				}
			}
		}
	}
}

func (s *Summary) printIssuesFlat(w io.Writer) {
	for _, fr := range s.Files {
		for i := range fr.Results {
			r := &fr.Results[i]
			if !r.HasIssues() {
				continue
			}
			fmt.Fprintf(w, "  - %s (%s:%d)\n", r.Function.DisplayName(), r.Function.FilePath, r.Function.LineNumber)
			for _, cr := range r.Results {
				if cr.HasIssue {
					fmt.Fprintf(w, "    - %s\n", cr.CheckName)
				}
			}
		}
	}
}

// PrintDetails writes the full per-issue report: highlighted source, analysis
// and suggested fix for every flagged function.
func (s *Summary) PrintDetails(w io.Writer) {
	fmt.Fprintln(w, headingStyle.Render("DETAILED REPORT"))
	fmt.Fprintln(w)

	var flagged []*types.AnalysisResult
	for _, fr := range s.Files {
		for i := range fr.Results {
			if fr.Results[i].HasIssues() {
				flagged = append(flagged, &fr.Results[i])
			}
		}
	}

	for idx, r := range flagged {
		fmt.Fprintf(w, "## %d - `%s`\n\n", idx+1, r.Function.DisplayName())
		fmt.Fprintf(w, "**Location:** `%s:%d`\n\n", r.Function.FilePath, r.Function.LineNumber)

		fmt.Fprintln(w, "### Original Code")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "```python")
		fmt.Fprintln(w, HighlightSource(r.Function.Source, r.Results))
		fmt.Fprintln(w, "```")
		fmt.Fprintln(w, mutedStyle.Render("> Note: lines prefixed with '>>' are suspected hotspots."))
		fmt.Fprintln(w)

		issues := flaggedResults(r.Results)
		for i, issue := range issues {
			pct := ConfidencePercent(issue.Analysis)
			if len(issues) > 1 {
				fmt.Fprintf(w, "### Issue %d: %s (confidence: %d%%)\n\n", i+1, issue.CheckName, pct)
			} else {
				fmt.Fprintf(w, "### Issue: %s (confidence: %d%%)\n\n", issue.CheckName, pct)
			}
			if issue.Solution != "" {
				fmt.Fprintln(w, strings.TrimSpace(issue.Analysis))
				fmt.Fprintln(w)
				fmt.Fprintln(w, "### Suggested Optimization")
				fmt.Fprintln(w)
				fmt.Fprintln(w, strings.TrimSpace(issue.Solution))
				fmt.Fprintln(w)
			}
		}
	}
	fmt.Fprintln(w)
}

func flaggedResults(results []types.CheckResult) []types.CheckResult {
	var out []types.CheckResult
	for _, cr := range results {
		if cr.HasIssue {
			out = append(out, cr)
		}
	}
	return out
}

// confidenceRe matches the confidence annotation appended to analyses.
var confidenceRe = regexp.MustCompile(`\[Confidence: ([0-9]*\.?[0-9]+)\]`)

// ConfidencePercent extracts the confidence annotation as a rounded
// percentage, 0 when absent.
func ConfidencePercent(analysis string) int {
	m := confidenceRe.FindStringSubmatch(analysis)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return int(v*100 + 0.5)
}

var (
	callRe   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_\.]*\s*\([^)]*\)`)
	dottedRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z0-9_\.]+`)
)

// detailTokens pulls code-like substrings out of the DETAIL line of an
// analysis; they drive hotspot line matching.
func detailTokens(analysis string) []string {
	var detail string
	for _, line := range strings.Split(analysis, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "DETAIL:"); ok {
			detail = strings.TrimSpace(rest)
			break
		}
	}
	if detail == "" {
		return nil
	}

	var tokens []string
	tokens = append(tokens, callRe.FindAllString(detail, -1)...)
	tokens = append(tokens, dottedRe.FindAllString(detail, -1)...)

	// Variants without trailing punctuation match more source lines.
	for _, t := range tokens[:len(tokens):len(tokens)] {
		if v := strings.TrimRight(t, "),."); v != "" && v != t {
			tokens = append(tokens, v)
		}
	}
	return tokens
}

// hotspotTokens gathers the sorted, deduplicated detail tokens of every
// flagged result.
func hotspotTokens(results []types.CheckResult) []string {
	var tokens []string
	for _, cr := range results {
		if cr.HasIssue {
			tokens = append(tokens, detailTokens(cr.Analysis)...)
		}
	}
	sort.Strings(tokens)
	out := tokens[:0]
	for i, t := range tokens {
		if i == 0 || t != tokens[i-1] {
			out = append(out, t)
		}
	}
	return out
}

// HighlightSource prefixes suspected hotspot lines with ">>".
func HighlightSource(source string, results []types.CheckResult) string {
	tokens := hotspotTokens(results)
	if len(tokens) == 0 {
		return source
	}

	var out []string
	for _, line := range strings.Split(source, "\n") {
		if lineMatches(line, tokens) {
			out = append(out, ">> "+line)
		} else {
			out = append(out, "   "+line)
		}
	}
	return strings.Join(out, "\n")
}

func lineMatches(line string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(line, t) {
			return true
		}
	}
	return false
}
