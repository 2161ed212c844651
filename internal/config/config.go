// Package config loads the check-definition document: runtime settings,
// named template fragments, the ordered check list and the dedupe rules.
// Checks are immutable after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"loopsleuth/internal/types"
)

// Settings holds optional overrides from the config document. Zero values
// mean "not set"; CLI flags left at their defaults pick these up.
type Settings struct {
	Backend     string `yaml:"backend"`     // llama (default) or gemini
	ServerURL   string `yaml:"server_url"`  // llama-server base URL
	Model       string `yaml:"model"`       // model name for hosted backends
	APIKeyEnv   string `yaml:"api_key_env"` // env var holding the API key
	Threads     int    `yaml:"threads"`
	MaxTokens   int    `yaml:"max_tokens"`
	ContextSize int    `yaml:"context_size"`
	SkipLarge   int    `yaml:"skip_large"` // skip functions above this many lines, 0 = no limit
	CacheDir    string `yaml:"cache_dir"`
}

// Guard is a cheap pre-generation filter over a function's source. An empty
// list means that predicate category is skipped entirely.
type Guard struct {
	RequireAny      []string `yaml:"require_any"`
	RequireAll      []string `yaml:"require_all"`
	ExcludeAny      []string `yaml:"exclude_any"`
	RequireRegexAny []string `yaml:"require_regex_any"`
	RequireRegexAll []string `yaml:"require_regex_all"`
	ExcludeRegexAny []string `yaml:"exclude_regex_any"`

	// Compiled during Load; no nil entries once validation passed.
	requireRegexAnyRe []*regexp.Regexp
	requireRegexAllRe []*regexp.Regexp
	excludeRegexAnyRe []*regexp.Regexp
}

// RequireRegexAnyCompiled returns the compiled require_regex_any patterns.
func (g *Guard) RequireRegexAnyCompiled() []*regexp.Regexp { return g.requireRegexAnyRe }

// RequireRegexAllCompiled returns the compiled require_regex_all patterns.
func (g *Guard) RequireRegexAllCompiled() []*regexp.Regexp { return g.requireRegexAllRe }

// ExcludeRegexAnyCompiled returns the compiled exclude_regex_any patterns.
func (g *Guard) ExcludeRegexAnyCompiled() []*regexp.Regexp { return g.excludeRegexAnyRe }

// Check is one diagnostic rule: a guard plus up to three prompts. The
// verifier prompt may be empty, in which case the verify stage is skipped.
type Check struct {
	Key             string `yaml:"key"`
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Category        string `yaml:"category"`
	Keyword         string `yaml:"keyword"`
	DetectionRules  string `yaml:"detection_rules"`
	FixRecipes      string `yaml:"fix_recipes"`
	DetectionPrompt string `yaml:"detection_prompt"`
	SolutionPrompt  string `yaml:"solution_prompt"`
	VerifierPrompt  string `yaml:"verifier_prompt"`
	Guard           Guard  `yaml:"guard"`
}

// DedupeRule drops lower-priority findings when the preferred check fires.
type DedupeRule struct {
	Prefer string   `yaml:"prefer"`
	Drop   []string `yaml:"drop"`
}

// Config is the loaded check-definition document.
type Config struct {
	Settings  Settings          `yaml:"settings"`
	Templates map[string]string `yaml:"templates"`
	Checks    []Check           `yaml:"check"`
	Dedupe    []DedupeRule      `yaml:"dedupe"`
}

const initConstructorNote = "\n\nIMPORTANT: This is an __init__ (constructor) method that initializes object state. " +
	"Constructor methods typically run once per object and should NOT be flagged unless they " +
	"have genuine algorithmic complexity issues (like nested loops over input data). " +
	"Simple attribute assignments and one-time setup calls are NOT performance issues.\n"

const assistantMarker = "<|im_start|>assistant"

// FormatDetectionPrompt builds the detection prompt for one function.
// Constructor methods get an extra note to reduce false positives.
func (c *Check) FormatDetectionPrompt(fn *types.FunctionInfo) string {
	r := strings.NewReplacer(
		"{function_source}", fn.SourceNoDocstring,
		"{name}", c.Name,
		"{keyword}", c.Keyword,
	)
	prompt := r.Replace(c.DetectionPrompt)

	if fn.Name == "__init__" {
		if pos := strings.LastIndex(prompt, assistantMarker); pos >= 0 {
			prompt = prompt[:pos] + initConstructorNote + prompt[pos:]
		} else {
			prompt += initConstructorNote
		}
	}
	return prompt
}

// FormatSolutionPrompt builds the solution prompt for one function.
func (c *Check) FormatSolutionPrompt(fn *types.FunctionInfo) string {
	return strings.NewReplacer(
		"{function_source}", fn.SourceNoDocstring,
		"{keyword}", c.Keyword,
	).Replace(c.SolutionPrompt)
}

// FormatVerifierPrompt builds the verifier prompt for a proposed solution.
func (c *Check) FormatVerifierPrompt(fn *types.FunctionInfo, solution string) string {
	return strings.NewReplacer(
		"{function_source}", fn.SourceNoDocstring,
		"{solution}", solution,
		"{keyword}", c.Keyword,
	).Replace(c.VerifierPrompt)
}

// Load reads and parses a config document from an explicit path.
func Load(path string, log *zap.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := parse(data, log)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads the config document using the standard resolution order:
// explicit path, then $HOME/.config/loopsleuth/loopsleuth.yaml, then the
// embedded defaults.
func Resolve(path string, log *zap.Logger) (*Config, error) {
	if path != "" {
		return Load(path, log)
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "loopsleuth", "loopsleuth.yaml")
		if _, err := os.Stat(p); err == nil {
			return Load(p, log)
		}
	}
	cfg, err := parse([]byte(DefaultDocument), log)
	if err != nil {
		return nil, fmt.Errorf("built-in default configuration: %w", err)
	}
	return cfg, nil
}

func parse(data []byte, log *zap.Logger) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := expand(&cfg, log); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// templateRefRe matches template-like substrings anywhere in a prompt. Used
// by the lenient diagnostic pass only.
var templateRefRe = regexp.MustCompile(`\{template:([A-Za-z0-9_.-]+)\}`)

// templateName returns the referenced template when the entire trimmed
// prompt is a single {template:name} placeholder.
func templateName(prompt string) (string, bool) {
	t := strings.TrimSpace(prompt)
	if rest, ok := strings.CutPrefix(t, "{template:"); ok {
		if name, ok := strings.CutSuffix(rest, "}"); ok {
			return name, true
		}
	}
	return "", false
}

// expandPrompt resolves a whole-value {template:name} placeholder. A strict
// reference to an unknown template is a load error.
func expandPrompt(prompt string, templates map[string]string) (string, error) {
	name, ok := templateName(prompt)
	if !ok {
		return prompt, nil
	}
	body, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}
	return body, nil
}

// warnMissingRefs scans all three prompt fields for template-like substrings
// that do not resolve and emits one warning per check. This pass never
// aborts loading.
func warnMissingRefs(c *Check, templates map[string]string, log *zap.Logger) {
	var missing []string
	seen := map[string]bool{}
	for _, prompt := range []string{c.DetectionPrompt, c.SolutionPrompt, c.VerifierPrompt} {
		for _, m := range templateRefRe.FindAllStringSubmatch(prompt, -1) {
			name := m[1]
			if _, ok := templates[name]; !ok && !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 && log != nil {
		log.Warn("check references missing templates",
			zap.String("check", c.Key),
			zap.Strings("templates", missing))
	}
}

// Compile validates and compiles all guard regex patterns. Load calls this
// for every check; it is exported so hand-built guards can be used directly.
func (g *Guard) Compile() error {
	compile := func(patterns []string) ([]*regexp.Regexp, error) {
		res := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid regex pattern %q: %w", p, err)
			}
			res = append(res, re)
		}
		return res, nil
	}

	var err error
	if g.requireRegexAnyRe, err = compile(g.RequireRegexAny); err != nil {
		return err
	}
	if g.requireRegexAllRe, err = compile(g.RequireRegexAll); err != nil {
		return err
	}
	if g.excludeRegexAnyRe, err = compile(g.ExcludeRegexAny); err != nil {
		return err
	}
	return nil
}

// expand resolves templates, substitutes shared fragments and validates
// guards for every check. Check keys must be unique within the document.
func expand(cfg *Config, log *zap.Logger) error {
	keys := make(map[string]bool, len(cfg.Checks))
	for i := range cfg.Checks {
		c := &cfg.Checks[i]
		if keys[c.Key] {
			return fmt.Errorf("duplicate check key: %s", c.Key)
		}
		keys[c.Key] = true

		warnMissingRefs(c, cfg.Templates, log)

		if err := c.Guard.Compile(); err != nil {
			return fmt.Errorf("check %q: %w", c.Key, err)
		}

		var err error
		if c.DetectionPrompt, err = expandPrompt(c.DetectionPrompt, cfg.Templates); err != nil {
			return fmt.Errorf("check %q detection prompt: %w", c.Key, err)
		}
		c.DetectionPrompt = strings.ReplaceAll(c.DetectionPrompt, "{detection_rules}", c.DetectionRules)

		if c.SolutionPrompt, err = expandPrompt(c.SolutionPrompt, cfg.Templates); err != nil {
			return fmt.Errorf("check %q solution prompt: %w", c.Key, err)
		}
		c.SolutionPrompt = strings.ReplaceAll(c.SolutionPrompt, "{fix_recipes}", c.FixRecipes)

		if c.VerifierPrompt, err = expandPrompt(c.VerifierPrompt, cfg.Templates); err != nil {
			return fmt.Errorf("check %q verifier prompt: %w", c.Key, err)
		}
		c.VerifierPrompt = strings.NewReplacer(
			"{detection_rules}", c.DetectionRules,
			"{fix_recipes}", c.FixRecipes,
		).Replace(c.VerifierPrompt)
	}
	return nil
}

// SelectChecks filters the loaded check list. An include list wins over an
// exclude list; both empty means all checks in document order.
func (cfg *Config) SelectChecks(include, exclude []string) []Check {
	if len(include) > 0 {
		want := toSet(include)
		var out []Check
		for _, c := range cfg.Checks {
			if want[c.Key] {
				out = append(out, c)
			}
		}
		return out
	}
	if len(exclude) > 0 {
		skip := toSet(exclude)
		var out []Check
		for _, c := range cfg.Checks {
			if !skip[c.Key] {
				out = append(out, c)
			}
		}
		return out
	}
	return cfg.Checks
}

func toSet(keys []string) map[string]bool {
	s := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			s[k] = true
		}
	}
	return s
}

// ParseCheckKeys splits a comma-separated key list, dropping empty entries.
func ParseCheckKeys(keys string) []string {
	var out []string
	for _, k := range strings.Split(keys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
