package config

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"loopsleuth/internal/types"
)

func parseDoc(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := parse([]byte(doc), zap.NewNop())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return cfg
}

func TestDefaultDocumentParses(t *testing.T) {
	cfg := parseDoc(t, DefaultDocument)

	if len(cfg.Checks) == 0 {
		t.Fatal("default document has no checks")
	}
	for _, c := range cfg.Checks {
		if c.Key == "" || c.Name == "" || c.Keyword == "" {
			t.Errorf("check %+v missing key, name or keyword", c)
		}
		if strings.Contains(c.DetectionPrompt, "{template:") {
			t.Errorf("check %q detection prompt not expanded", c.Key)
		}
		if strings.Contains(c.DetectionPrompt, "{detection_rules}") {
			t.Errorf("check %q detection rules not substituted", c.Key)
		}
	}
	if len(cfg.Dedupe) == 0 {
		t.Error("default document has no dedupe rules")
	}
}

func TestTemplateExpansion(t *testing.T) {
	doc := `
templates:
  det: "analyze {function_source} with {detection_rules}"
check:
  - key: sample
    name: Sample
    keyword: SAMPLE
    detection_rules: "rule one"
    detection_prompt: "{template:det}"
`
	cfg := parseDoc(t, doc)

	want := "analyze {function_source} with rule one"
	if got := cfg.Checks[0].DetectionPrompt; got != want {
		t.Errorf("detection prompt = %q, want %q", got, want)
	}
}

func TestUnknownTemplateFails(t *testing.T) {
	doc := `
check:
  - key: sample
    name: Sample
    detection_prompt: "{template:missing}"
`
	_, err := parse([]byte(doc), zap.NewNop())
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
	if !strings.Contains(err.Error(), "unknown template: missing") {
		t.Errorf("error = %v", err)
	}
}

func TestPartialTemplateRefIsLenient(t *testing.T) {
	// A template-like substring embedded in a larger prompt is a warning,
	// not a load error.
	doc := `
check:
  - key: sample
    name: Sample
    detection_prompt: "prefix {template:missing} suffix"
`
	cfg := parseDoc(t, doc)
	if !strings.Contains(cfg.Checks[0].DetectionPrompt, "{template:missing}") {
		t.Error("partial reference should be left verbatim")
	}
}

func TestDuplicateCheckKey(t *testing.T) {
	doc := `
check:
  - key: sample
    name: One
  - key: sample
    name: Two
`
	_, err := parse([]byte(doc), zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "duplicate check key: sample") {
		t.Errorf("error = %v", err)
	}
}

func TestInvalidGuardRegex(t *testing.T) {
	doc := `
check:
  - key: sample
    name: Sample
    guard:
      require_regex_any: ["[unclosed"]
`
	_, err := parse([]byte(doc), zap.NewNop())
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	if !strings.Contains(err.Error(), `check "sample"`) || !strings.Contains(err.Error(), "invalid regex pattern") {
		t.Errorf("error = %v", err)
	}
}

func TestVerifierFragmentSubstitution(t *testing.T) {
	doc := `
check:
  - key: sample
    name: Sample
    detection_rules: "DR"
    fix_recipes: "FR"
    verifier_prompt: "rules: {detection_rules} recipes: {fix_recipes}"
`
	cfg := parseDoc(t, doc)
	if got := cfg.Checks[0].VerifierPrompt; got != "rules: DR recipes: FR" {
		t.Errorf("verifier prompt = %q", got)
	}
}

func TestFormatDetectionPrompt(t *testing.T) {
	c := &Check{
		Name:            "Sample",
		Keyword:         "SAMPLE",
		DetectionPrompt: "check {name} for {keyword} in:\n{function_source}\n<|im_start|>assistant\n",
	}

	fn := &types.FunctionInfo{
		Name:              "process",
		SourceNoDocstring: "def process():\n    pass",
	}
	got := c.FormatDetectionPrompt(fn)
	if !strings.Contains(got, "check Sample for SAMPLE") {
		t.Errorf("placeholders not substituted: %q", got)
	}
	if !strings.Contains(got, "def process():") {
		t.Error("function source missing")
	}
	if strings.Contains(got, "__init__ (constructor)") {
		t.Error("constructor note added for non-constructor")
	}
}

func TestFormatDetectionPromptConstructorNote(t *testing.T) {
	c := &Check{
		DetectionPrompt: "analyze\n{function_source}\n<|im_start|>assistant\n",
	}
	fn := &types.FunctionInfo{
		Name:              "__init__",
		SourceNoDocstring: "def __init__(self):\n    self.x = 1",
	}

	got := c.FormatDetectionPrompt(fn)
	notePos := strings.Index(got, "__init__ (constructor)")
	markerPos := strings.Index(got, assistantMarker)
	if notePos < 0 {
		t.Fatal("constructor note missing")
	}
	if markerPos < 0 || notePos > markerPos {
		t.Error("constructor note must come before the assistant marker")
	}
}

func TestSelectChecks(t *testing.T) {
	cfg := &Config{Checks: []Check{{Key: "a"}, {Key: "b"}, {Key: "c"}}}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{name: "all by default", want: []string{"a", "b", "c"}},
		{name: "include subset", include: []string{"c", "a"}, want: []string{"a", "c"}},
		{name: "exclude subset", exclude: []string{"b"}, want: []string{"a", "c"}},
		{name: "include wins over exclude", include: []string{"b"}, exclude: []string{"b"}, want: []string{"b"}},
		{name: "unknown include selects nothing", include: []string{"zzz"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.SelectChecks(tt.include, tt.exclude)
			var keys []string
			for _, c := range got {
				keys = append(keys, c.Key)
			}
			if len(keys) != len(tt.want) {
				t.Fatalf("keys = %v, want %v", keys, tt.want)
			}
			for i := range keys {
				if keys[i] != tt.want[i] {
					t.Errorf("keys = %v, want %v", keys, tt.want)
					break
				}
			}
		})
	}
}

func TestParseCheckKeys(t *testing.T) {
	got := ParseCheckKeys(" a, b ,,c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
