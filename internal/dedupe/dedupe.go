// Package dedupe suppresses overlapping findings on a function according
// to configured preference rules.
package dedupe

import (
	"loopsleuth/internal/config"
	"loopsleuth/internal/types"
)

// Apply filters results in rule order: for each rule whose preferred check
// still has a flagged result, flagged results for checks in the rule's drop
// list are removed. Rules see the output of earlier rules, and clean
// results always survive.
func Apply(results []types.CheckResult, rules []config.DedupeRule) []types.CheckResult {
	for _, rule := range rules {
		if rule.Prefer == "" || len(rule.Drop) == 0 {
			continue
		}
		preferred := false
		for _, r := range results {
			if r.HasIssue && r.CheckKey == rule.Prefer {
				preferred = true
				break
			}
		}
		if !preferred {
			continue
		}
		kept := results[:0]
		for _, r := range results {
			if r.HasIssue && contains(rule.Drop, r.CheckKey) {
				continue
			}
			kept = append(kept, r)
		}
		results = kept
	}
	return results
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
