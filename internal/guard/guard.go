// Package guard evaluates a check's pre-generation filter against a
// function's source text.
package guard

import (
	"strings"

	"loopsleuth/internal/config"
)

// Evaluate tests the six predicate categories in fixed order: require_any,
// require_all, exclude_any, require_regex_any, require_regex_all,
// exclude_regex_any. Literal substring checks run before regex checks, and
// evaluation stops at the first failing category, so exactly one reason is
// ever produced for a given source. Returns ("", false) when no predicate
// blocks the check.
func Evaluate(g *config.Guard, source string) (string, bool) {
	if len(g.RequireAny) > 0 {
		found := false
		for _, t := range g.RequireAny {
			if strings.Contains(source, t) {
				found = true
				break
			}
		}
		if !found {
			return "guard require_any missing", true
		}
	}

	if len(g.RequireAll) > 0 {
		for _, t := range g.RequireAll {
			if !strings.Contains(source, t) {
				return "guard require_all missing", true
			}
		}
	}

	for _, t := range g.ExcludeAny {
		if strings.Contains(source, t) {
			return "guard exclude_any hit", true
		}
	}

	if res := g.RequireRegexAnyCompiled(); len(res) > 0 {
		found := false
		for _, re := range res {
			if re.MatchString(source) {
				found = true
				break
			}
		}
		if !found {
			return "guard require_regex_any missing", true
		}
	}

	for _, re := range g.RequireRegexAllCompiled() {
		if !re.MatchString(source) {
			return "guard require_regex_all missing", true
		}
	}

	for _, re := range g.ExcludeRegexAnyCompiled() {
		if re.MatchString(source) {
			return "guard exclude_regex_any hit", true
		}
	}

	return "", false
}
