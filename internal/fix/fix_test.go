package fix

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractFix(t *testing.T) {
	tests := []struct {
		name      string
		generated string
		want      string
		ok        bool
	}{
		{
			name:      "fenced block",
			generated: "Here is the fix:\n\ndef f(xs):\n    return sum(xs)",
			want:      "Here is the fix:\n\ndef f(xs):\n    return sum(xs)",
			ok:        true,
		},
		{
			name:      "python fence stripped",
			generated: "```python\ndef f(xs):\n    return sum(xs)\n```\nexplanation",
			want:      "def f(xs):\n    return sum(xs)",
			ok:        true,
		},
		{
			name:      "unterminated fence tolerated",
			generated: "```python\ndef f(xs):\n    return sum(xs)",
			want:      "def f(xs):\n    return sum(xs)",
			ok:        true,
		},
		{
			name:      "import lines dropped",
			generated: "```python\nimport collections\nfrom itertools import chain\ndef f(xs):\n    return sum(xs)\n```",
			want:      "def f(xs):\n    return sum(xs)",
			ok:        true,
		},
		{
			name:      "empty after stripping",
			generated: "```python\nimport os\n```",
			ok:        false,
		},
		{
			name:      "bare fence only",
			generated: "```",
			ok:        false,
		},
		{
			name:      "empty input",
			generated: "",
			ok:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFix(tt.generated)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateOptimization(t *testing.T) {
	original := "def f(xs):\n    out = []\n    for x in xs:\n        out.append(x * 2)\n    return out"

	t.Run("identical rejected", func(t *testing.T) {
		err := ValidateOptimization(original, original)
		if !errors.Is(err, ErrIdenticalToOriginal) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("whitespace only rejected", func(t *testing.T) {
		candidate := "def f(xs):\n\n    out = []\n    for x in xs:\n        out.append(x * 2)\n\n    return out"
		err := ValidateOptimization(original, candidate)
		if !errors.Is(err, ErrWhitespaceOnly) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("comments only rejected", func(t *testing.T) {
		candidate := "def f(xs):\n    # faster now\n    out = []\n    for x in xs:\n        out.append(x * 2)\n    return out"
		err := ValidateOptimization(original, candidate)
		if !errors.Is(err, ErrWhitespaceOnly) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("real change accepted", func(t *testing.T) {
		candidate := "def f(xs):\n    return [x * 2 for x in xs]"
		if err := ValidateOptimization(original, candidate); err != nil {
			t.Errorf("err = %v", err)
		}
	})
}

func TestRenderDiff(t *testing.T) {
	original := "def f(xs):\n    out = []\n    for x in xs:\n        out.append(x * 2)\n    return out"
	candidate := "def f(xs):\n    return [x * 2 for x in xs]"

	diff := RenderDiff(original, candidate)

	if !strings.Contains(diff, "-    out = []") {
		t.Errorf("missing removal:\n%s", diff)
	}
	if !strings.Contains(diff, "+    return [x * 2 for x in xs]") {
		t.Errorf("missing addition:\n%s", diff)
	}
	if !strings.Contains(diff, " def f(xs):") {
		t.Errorf("missing context line:\n%s", diff)
	}
	for _, line := range strings.Split(diff, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '-', '+', ' ':
		default:
			t.Errorf("line without diff prefix: %q", line)
		}
	}
}

func TestValidateDiffText(t *testing.T) {
	original := "def f(xs):\n    out = []\n    for x in xs:\n        out.append(x * 2)\n    return out"

	tests := []struct {
		name     string
		solution string
		want     bool
	}{
		{
			name:     "real diff accepted",
			solution: "```diff\n def f(xs):\n-    out = []\n-    for x in xs:\n-        out.append(x * 2)\n-    return out\n+    return [x * 2 for x in xs]\n```",
			want:     true,
		},
		{
			name:     "empty change set rejected",
			solution: "```diff\n def f(xs):\n     return out\n```",
			want:     false,
		},
		{
			name:     "restated lines rejected",
			solution: "```diff\n-    out = []\n+    out = []  # preallocate\n```",
			want:     false,
		},
		{
			name:     "hallucinated removals rejected",
			solution: "```diff\n-    result = session.execute(query)\n+    result = session.execute(query).fetchall()\n```",
			want:     false,
		},
		{
			name:     "no diff no phrase rejected",
			solution: "The function looks slow but I have no concrete suggestion.",
			want:     false,
		},
		{
			name:     "no optimization phrase accepted",
			solution: "This function is already optimal for its input size.",
			want:     true,
		},
		{
			name:     "cannot be optimized accepted",
			solution: "The loop cannot be optimized without changing semantics.",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateDiffText(tt.solution, original); got != tt.want {
				t.Errorf("ValidateDiffText = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCodeLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"out.append(x * 2)  # double it", "out.append(x*2)"},
		{"  Return OUT  ", "returnout"},
		{"# just a comment", ""},
	}
	for _, tt := range tests {
		if got := normalizeCodeLine(tt.in); got != tt.want {
			t.Errorf("normalizeCodeLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
