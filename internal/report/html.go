package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"loopsleuth/internal/types"
)

const htmlHead = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>LoopSleuth Analysis Report</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, Segoe UI, sans-serif; margin: 24px; color: #111; }
    h1, h2, h3, h4 { margin: 16px 0 8px; }
    .meta { color: #555; margin-bottom: 16px; }
    .summary li { margin: 4px 0; }
    .issue-list li { margin: 4px 0; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
    pre { background: #fafafa; border: 1px solid #eee; padding: 12px; overflow: auto; }
    .hotspot { background-color: #ffe6e6; }
    .note { color: #666; font-size: 0.9em; }
    hr { border: none; border-top: 1px solid #eee; margin: 20px 0; }
  </style>
</head>
<body>
`

// WriteHTML writes the full report to path. runID stamps the footer so a
// report can be matched to its run in the logs.
func (s *Summary) WriteHTML(path, runID string) error {
	var b strings.Builder
	b.WriteString(htmlHead)

	b.WriteString("<h1>LoopSleuth Analysis Report</h1>\n")
	fmt.Fprintf(&b, "<div class=\"meta\">Generated: %s</div>\n", time.Now().Format("2006-01-02 15:04:05"))

	b.WriteString("<h2>Summary</h2>\n<ul class=\"summary\">\n")
	fmt.Fprintf(&b, "<li><strong>Total functions analyzed:</strong> %d</li>\n", s.Functions)
	fmt.Fprintf(&b, "<li><strong>Checks run:</strong> %d (%s)</li>\n", len(s.Checks), escapeHTML(s.checkKeys()))
	fmt.Fprintf(&b, "<li><strong>Functions with issues:</strong> %d</li>\n", s.WithIssues)
	fmt.Fprintf(&b, "<li><strong>Functions clean:</strong> %d</li>\n", s.Functions-s.WithIssues)
	if s.CacheEnabled {
		if total, withIssues, err := s.Cache.Stats(); err == nil && total > 0 {
			fmt.Fprintf(&b, "<li><strong>Cache entries:</strong> %d total, %d with issues</li>\n", total, withIssues)
		}
	}
	b.WriteString("</ul>\n")

	if s.WithIssues > 0 {
		s.writeIssueList(&b)
		b.WriteString("<hr>\n<h2>Detailed Analysis</h2>\n")
		s.writeDetails(&b)
	}

	b.WriteString("<hr>\n")
	fmt.Fprintf(&b, "<div class=\"note\">Generated by LoopSleuth (run %s)</div>\n", escapeHTML(runID))
	b.WriteString("</body>\n</html>\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

func (s *Summary) writeIssueList(b *strings.Builder) {
	b.WriteString("<h2>Issues Detected</h2>\n<ul class=\"issue-list\">\n")
	for _, fr := range s.Files {
		for i := range fr.Results {
			r := &fr.Results[i]
			if !r.HasIssues() {
				continue
			}
			fmt.Fprintf(b, "<li><code>%s</code> (%s:%d)\n<ul>\n",
				escapeHTML(r.Function.DisplayName()),
				escapeHTML(r.Function.FilePath),
				r.Function.LineNumber)
			for _, cr := range r.Results {
				if cr.HasIssue {
					fmt.Fprintf(b, "<li>%s</li>\n", escapeHTML(cr.CheckName))
				}
			}
			b.WriteString("</ul></li>\n")
		}
	}
	b.WriteString("</ul>\n")
}

func (s *Summary) writeDetails(b *strings.Builder) {
	idx := 0
	for _, fr := range s.Files {
		for i := range fr.Results {
			r := &fr.Results[i]
			if !r.HasIssues() {
				continue
			}
			if idx > 0 {
				b.WriteString("<hr>\n")
			}
			idx++

			fmt.Fprintf(b, "<h3>%d - <code>%s</code></h3>\n", idx, escapeHTML(r.Function.DisplayName()))
			fmt.Fprintf(b, "<div><strong>Location:</strong> <code>%s:%d</code></div>\n",
				escapeHTML(r.Function.FilePath), r.Function.LineNumber)
			b.WriteString("<h4>Original Code</h4>\n")
			fmt.Fprintf(b, "<pre><code class=\"language-python\">%s</code></pre>\n",
				highlightSourceHTML(r.Function.Source, r.Results))
			b.WriteString("<div class=\"note\">Lines with light red background are suspected hotspots.</div>\n")

			issues := flaggedResults(r.Results)
			for j, issue := range issues {
				pct := ConfidencePercent(issue.Analysis)
				if len(issues) > 1 {
					fmt.Fprintf(b, "<h4>Issue %d: %s (confidence: %d%%)</h4>\n", j+1, escapeHTML(issue.CheckName), pct)
				} else {
					fmt.Fprintf(b, "<h4>Issue: %s (confidence: %d%%)</h4>\n", escapeHTML(issue.CheckName), pct)
				}
				if issue.Solution != "" {
					fmt.Fprintf(b, "<div><pre><code>%s</code></pre></div>\n", escapeHTML(strings.TrimSpace(issue.Analysis)))
					b.WriteString("<h4>Suggested Optimization</h4>\n")
					fmt.Fprintf(b, "<div><pre><code>%s</code></pre></div>\n", escapeHTML(strings.TrimSpace(issue.Solution)))
				}
			}
		}
	}
}

// highlightSourceHTML wraps suspected hotspot lines in a span, escaping
// everything.
func highlightSourceHTML(source string, results []types.CheckResult) string {
	tokens := hotspotTokens(results)
	var out []string
	for _, line := range strings.Split(source, "\n") {
		escaped := escapeHTML(line)
		if len(tokens) > 0 && lineMatches(line, tokens) {
			out = append(out, "<span class=\"hotspot\">"+escaped+"</span>")
		} else {
			out = append(out, escaped)
		}
	}
	return strings.Join(out, "\n")
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }
