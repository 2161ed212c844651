package scan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loopsleuth/internal/types"
)

const sampleModule = `import os

def top_level(xs):
    """Sum the values."""
    total = 0
    for x in xs:
        total += x
    return total


class Widget:
    """A widget."""

    def __init__(self, name):
        self.name = name

    def render(self):
        def helper():
            return 1
        return helper()

    async def refresh(self):
        await self.reload()


def trailing():
    pass
`

func mustExtract(t *testing.T, source, path string) []*types.FunctionInfo {
	t.Helper()
	functions, err := Extract(source, path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return functions
}

func TestExtract(t *testing.T) {
	functions := mustExtract(t, sampleModule, "sample.py")

	var names []string
	for _, fn := range functions {
		names = append(names, fn.DisplayName())
	}
	want := []string{"top_level", "Widget::__init__", "Widget::render", "Widget::refresh", "trailing"}
	if len(names) != len(want) {
		t.Fatalf("functions = %v, want %v", names, want)
	}
	for i := range names {
		if names[i] != want[i] {
			t.Errorf("functions = %v, want %v", names, want)
			break
		}
	}
}

func TestExtractSkipsNestedFunctions(t *testing.T) {
	functions := mustExtract(t, sampleModule, "sample.py")
	for _, fn := range functions {
		if fn.Name == "helper" {
			t.Error("nested function must not be emitted")
		}
	}
}

func TestExtractLineNumbers(t *testing.T) {
	functions := mustExtract(t, sampleModule, "sample.py")

	byName := map[string]int{}
	for _, fn := range functions {
		byName[fn.Name] = fn.LineNumber
	}
	if byName["top_level"] != 3 {
		t.Errorf("top_level line = %d, want 3", byName["top_level"])
	}
	if byName["__init__"] != 14 {
		t.Errorf("__init__ line = %d, want 14", byName["__init__"])
	}
}

func TestExtractSourceExtent(t *testing.T) {
	functions := mustExtract(t, sampleModule, "sample.py")

	var topLevel string
	for _, fn := range functions {
		if fn.Name == "top_level" {
			topLevel = fn.Source
		}
	}
	if !strings.HasPrefix(topLevel, "def top_level(xs):") {
		t.Errorf("source start = %q", topLevel)
	}
	if !strings.HasSuffix(topLevel, "return total") {
		t.Errorf("source end = %q", topLevel)
	}
	if strings.Contains(topLevel, "class Widget") {
		t.Error("source ran past the function body")
	}
}

func TestExtractTripleQuotedStringBody(t *testing.T) {
	// A dedented string literal inside the body must not end the function.
	src := "def f():\n    query = \"\"\"\nSELECT *\nFROM t\n\"\"\"\n    return query\n"
	functions := mustExtract(t, src, "queries.py")

	if len(functions) != 1 {
		t.Fatalf("functions = %d, want 1", len(functions))
	}
	fn := functions[0]
	if !strings.Contains(fn.Source, "FROM t") {
		t.Errorf("source lost the string body: %q", fn.Source)
	}
	if !strings.HasSuffix(fn.Source, "return query") {
		t.Errorf("source end = %q", fn.Source)
	}
}

func TestExtractDecoratedFunction(t *testing.T) {
	src := "@cached\ndef compute(x):\n    return x * 2\n\nclass Svc:\n    @staticmethod\n    def helper():\n        pass\n"
	functions := mustExtract(t, src, "deco.py")

	byName := map[string]*types.FunctionInfo{}
	for _, fn := range functions {
		byName[fn.Name] = fn
	}
	if fn := byName["compute"]; fn == nil || fn.LineNumber != 2 {
		t.Fatalf("compute = %+v", fn)
	}
	if fn := byName["helper"]; fn == nil || fn.ClassName != "Svc" {
		t.Fatalf("helper = %+v", fn)
	}
}

func TestExtractAsyncAndClassStack(t *testing.T) {
	src := "class Outer:\n    class Inner:\n        def method(self):\n            pass\n\n    def outer_method(self):\n        pass\n"
	functions := mustExtract(t, src, "nested.py")

	byName := map[string]string{}
	for _, fn := range functions {
		byName[fn.Name] = fn.ClassName
	}
	if byName["method"] != "Inner" {
		t.Errorf("method class = %q, want Inner", byName["method"])
	}
	if byName["outer_method"] != "Outer" {
		t.Errorf("outer_method class = %q, want Outer", byName["outer_method"])
	}
}

func TestStripDocstring(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "single line docstring",
			source: "def f():\n    \"\"\"Does things.\"\"\"\n    return 1",
			want:   "def f():\n    return 1",
		},
		{
			name:   "multi line docstring",
			source: "def f():\n    \"\"\"Does things.\n\n    At length.\n    \"\"\"\n    return 1",
			want:   "def f():\n    return 1",
		},
		{
			name:   "single quotes",
			source: "def f():\n    '''Doc.'''\n    return 1",
			want:   "def f():\n    return 1",
		},
		{
			name:   "no docstring untouched",
			source: "def f():\n    return 1",
			want:   "def f():\n    return 1",
		},
		{
			name:   "string mid-body survives",
			source: "def f():\n    x = 1\n    \"\"\"not a docstring\"\"\"\n    return x",
			want:   "def f():\n    x = 1\n    \"\"\"not a docstring\"\"\"\n    return x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripDocstring(tt.source); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestCollectPythonFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.py", "a.py", "notes.txt", filepath.Join("sub", "c.py")} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("def f():\n    pass\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := CollectPythonFiles(dir)
	if err != nil {
		t.Fatalf("CollectPythonFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v", files)
	}
	// Sorted, .txt excluded.
	if filepath.Base(files[0]) != "a.py" || filepath.Base(files[1]) != "b.py" || filepath.Base(files[2]) != "c.py" {
		t.Errorf("files = %v", files)
	}

	single, err := CollectPythonFiles(filepath.Join(dir, "a.py"))
	if err != nil || len(single) != 1 {
		t.Errorf("single file = %v, %v", single, err)
	}

	none, err := CollectPythonFiles(filepath.Join(dir, "notes.txt"))
	if err != nil || len(none) != 0 {
		t.Errorf("non-python file = %v, %v", none, err)
	}
}
