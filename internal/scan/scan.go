// Package scan discovers Python source files and extracts their functions.
// Extraction parses the file with Tree-sitter's Python grammar and walks the
// AST for def/async def nodes at module level and directly inside class
// bodies, tracking the enclosing class name. Functions nested inside other
// functions are deliberately not emitted. The leading docstring is stripped
// textually for the prompt-facing source variant.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"loopsleuth/internal/types"
)

// CollectPythonFiles returns the .py files under path in sorted order. A
// file path is returned as-is when it has the .py extension.
func CollectPythonFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", path, err)
	}

	if !info.IsDir() {
		if filepath.Ext(path) == ".py" {
			return []string{path}, nil
		}
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() && filepath.Ext(p) == ".py" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// ExtractFile reads a Python file and extracts its functions.
func ExtractFile(path string) ([]*types.FunctionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Extract(string(data), path)
}

// Extract parses source and returns its function definitions. Line numbers
// are 1-based. Tree-sitter produces a tree even for malformed input, so a
// broken file yields whatever functions still parse rather than an error.
func Extract(source, path string) ([]*types.FunctionInfo, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	lines := strings.Split(source, "\n")
	var functions []*types.FunctionInfo
	collect(tree.RootNode(), "", path, content, lines, &functions)
	return functions, nil
}

// collect walks one block (the module or a class body) and emits its
// function definitions. Class bodies recurse with the class name; function
// bodies never recurse, which keeps nested defs out of the result.
func collect(node *sitter.Node, className, path string, content []byte, lines []string, out *[]*types.FunctionInfo) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			appendFunction(child, className, path, content, lines, out)
		case "class_definition":
			collectClass(child, path, content, lines, out)
		case "decorated_definition":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				inner := child.NamedChild(j)
				switch inner.Type() {
				case "function_definition":
					appendFunction(inner, className, path, content, lines, out)
				case "class_definition":
					collectClass(inner, path, content, lines, out)
				}
			}
		}
	}
}

func collectClass(node *sitter.Node, path string, content []byte, lines []string, out *[]*types.FunctionInfo) {
	name := fieldText(node, "name", content)
	body := node.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	collect(body, name, path, content, lines, out)
}

func appendFunction(node *sitter.Node, className, path string, content []byte, lines []string, out *[]*types.FunctionInfo) {
	name := fieldText(node, "name", content)
	if name == "" {
		return
	}

	// Source is the full line span so methods keep the def line's
	// indentation too.
	start := int(node.StartPoint().Row)
	end := int(node.EndPoint().Row)
	if start >= len(lines) || end >= len(lines) {
		return
	}
	src := strings.Join(lines[start:end+1], "\n")

	*out = append(*out, &types.FunctionInfo{
		Name:              name,
		Source:            src,
		SourceNoDocstring: StripDocstring(src),
		FilePath:          path,
		LineNumber:        start + 1,
		ClassName:         className,
	})
}

func fieldText(node *sitter.Node, field string, content []byte) string {
	n := node.ChildByFieldName(field)
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

// StripDocstring removes the first docstring after a def line so prompts
// carry only executable source. All other lines survive untouched.
func StripDocstring(source string) string {
	lines := strings.Split(source, "\n")
	if len(lines) == 0 {
		return source
	}

	var result []string
	foundDef := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def ") {
			result = append(result, line)
			foundDef = true
			continue
		}

		if foundDef && (strings.HasPrefix(trimmed, `"""`) || strings.HasPrefix(trimmed, "'''")) {
			quote := `"""`
			if strings.HasPrefix(trimmed, "'''") {
				quote = "'''"
			}

			if strings.HasSuffix(trimmed, quote) && len(trimmed) > 6 {
				foundDef = false
				continue
			}

			// Multi-line docstring runs to the closing quotes.
			i++
			for i < len(lines) {
				if strings.HasSuffix(strings.TrimSpace(lines[i]), quote) {
					break
				}
				i++
			}
			foundDef = false
			continue
		}

		result = append(result, line)
		foundDef = false
	}
	return strings.Join(result, "\n")
}
