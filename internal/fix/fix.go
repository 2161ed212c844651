// Package fix extracts a proposed rewrite from generated text, validates it
// against degenerate and hallucinated changes, and renders the line diff
// shown to users.
package fix

import (
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Rejection reasons surfaced in analysis text.
var (
	ErrIdenticalToOriginal = errors.New("optimized code is identical to original")
	ErrWhitespaceOnly      = errors.New("optimized code only changes whitespace/comments")
)

// ExtractFix pulls the rewritten function out of generated text: a leading
// fence line is stripped, content runs to the next fence or end of text, and
// any import lines the model slipped in are dropped. Returns false when
// nothing remains.
func ExtractFix(generated string) (string, bool) {
	body := strings.TrimSpace(generated)

	if strings.HasPrefix(body, "```") {
		if _, rest, ok := strings.Cut(body, "\n"); ok {
			body = strings.TrimSpace(rest)
		} else {
			return "", false
		}
	}

	// Tolerate a missing closing fence on truncated output.
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			continue
		}
		lines = append(lines, line)
	}

	code := strings.TrimSpace(strings.Join(lines, "\n"))
	if code == "" {
		return "", false
	}
	return code, true
}

// ValidateOptimization rejects a candidate that is byte-identical to the
// original or differs only in blank lines and comments.
func ValidateOptimization(original, candidate string) error {
	if strings.TrimSpace(original) == strings.TrimSpace(candidate) {
		return ErrIdenticalToOriginal
	}

	if equalCodeLines(codeLines(original), codeLines(candidate)) {
		return ErrWhitespaceOnly
	}
	return nil
}

// codeLines returns the trimmed non-blank non-comment lines.
func codeLines(source string) []string {
	var out []string
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func equalCodeLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RenderDiff produces a unified line diff of original against candidate,
// one line per change tagged "-", "+" or " ". Uses a line-level reduction
// to keep changes aligned on line boundaries.
func RenderDiff(original, candidate string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(ensureTrailingNewline(original), ensureTrailingNewline(candidate))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out strings.Builder
	for _, d := range diffs {
		sign := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			sign = "-"
		case diffmatchpatch.DiffInsert:
			sign = "+"
		}
		text := strings.TrimSuffix(d.Text, "\n")
		for _, line := range strings.Split(text, "\n") {
			out.WriteString(sign)
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// noOptimizationPhrases are accepted in place of a diff when the model
// concludes no safe change exists.
var noOptimizationPhrases = []string{
	"no optimization possible",
	"cannot be optimized",
	"already optimal",
	"necessary operations",
}

// ValidateDiffText is a safety net over rendered diff text. It rejects an
// empty change set, a diff whose added lines merely restate its removed
// lines, and a diff removing lines that cannot be located in the original
// (a hallucinated diff). Text without a diff block passes only when it
// contains an explicit no-optimization phrase.
func ValidateDiffText(solution, original string) bool {
	idx := strings.Index(solution, "```diff")
	if idx < 0 {
		lower := strings.ToLower(solution)
		for _, phrase := range noOptimizationPhrases {
			if strings.Contains(lower, phrase) {
				return true
			}
		}
		return false
	}

	diffText := solution[idx+len("```diff"):]
	if end := strings.Index(diffText, "```"); end >= 0 {
		diffText = diffText[:end]
	}

	var removed, added []string
	for _, line := range strings.Split(diffText, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "---") || strings.HasPrefix(trimmed, "+++"):
			// File headers, not changes.
		case strings.HasPrefix(trimmed, "-"):
			if content := strings.TrimSpace(trimmed[1:]); content != "" && !strings.HasPrefix(content, "--") {
				removed = append(removed, content)
			}
		case strings.HasPrefix(trimmed, "+"):
			if content := strings.TrimSpace(trimmed[1:]); content != "" && !strings.HasPrefix(content, "++") {
				added = append(added, content)
			}
		}
	}

	if len(removed) == 0 && len(added) == 0 {
		return false
	}

	// A diff whose every removed line reappears verbatim among the added
	// lines changes nothing.
	if len(removed) > 0 && len(added) == len(removed) {
		allRestated := true
		for _, r := range removed {
			found := false
			for _, a := range added {
				if normalizeCodeLine(r) == normalizeCodeLine(a) {
					found = true
					break
				}
			}
			if !found {
				allRestated = false
				break
			}
		}
		if allRestated {
			return false
		}
	}

	if len(removed) > 0 {
		var originalNormalized []string
		for _, line := range strings.Split(original, "\n") {
			if n := normalizeCodeLine(strings.TrimSpace(line)); n != "" {
				originalNormalized = append(originalNormalized, n)
			}
		}

		found := 0
		for _, r := range removed {
			n := normalizeCodeLine(r)
			for _, orig := range originalNormalized {
				if strings.Contains(orig, n) || strings.Contains(n, orig) {
					found++
					break
				}
			}
		}
		if found == 0 {
			return false
		}
	}

	return true
}

// normalizeCodeLine strips comments and all whitespace and lowercases, so
// near-identical lines compare equal.
func normalizeCodeLine(line string) string {
	code, _, _ := strings.Cut(line, "#")
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "\t", "")
	return strings.ToLower(code)
}
