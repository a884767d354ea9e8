// Package parse lowers source files into the normalized node model. The
// TreeSitter parser covers Python, Go, JavaScript, TypeScript, Rust, Java
// and C; anything else is reported as unsupported so callers can skip the
// file.
package parse

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/chris-regnier/vigil/internal/node"
)

// Parser turns source text into a normalized tree.
type Parser interface {
	Parse(ctx context.Context, path string, src []byte) (*node.Tree, error)
}

// ErrUnsupported is returned for files whose language has no adapter.
var ErrUnsupported = errors.New("unsupported language")

// Error is a syntax error in one file. It never aborts a run.
type Error struct {
	File   string
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Msg)
}

type language struct {
	name     string
	grammar  func() *sitter.Language
	handlers map[string]handler
}

var (
	pythonLang = &language{name: "python", grammar: python.GetLanguage}
	goLang     = &language{name: "go", grammar: golang.GetLanguage}
	jsLang     = &language{name: "javascript", grammar: javascript.GetLanguage}
	tsLang     = &language{name: "typescript", grammar: typescript.GetLanguage}
	tsxLang    = &language{name: "typescript", grammar: tsx.GetLanguage}
	rustLang   = &language{name: "rust", grammar: rust.GetLanguage}
	javaLang   = &language{name: "java", grammar: java.GetLanguage}
	cLang      = &language{name: "c", grammar: c.GetLanguage}
)

var extToLang = map[string]*language{
	".py":   pythonLang,
	".go":   goLang,
	".js":   jsLang,
	".jsx":  jsLang,
	".mjs":  jsLang,
	".cjs":  jsLang,
	".ts":   tsLang,
	".mts":  tsLang,
	".cts":  tsLang,
	".tsx":  tsxLang,
	".rs":   rustLang,
	".java": javaLang,
	".c":    cLang,
	".h":    cLang,
}

func init() {
	pythonLang.handlers = pythonHandlers()
	goLang.handlers = goHandlers()
	jsLang.handlers = jsHandlers()
	tsLang.handlers = tsHandlers()
	tsxLang.handlers = tsLang.handlers
	rustLang.handlers = rustHandlers()
	javaLang.handlers = javaHandlers()
	cLang.handlers = cHandlers()
}

// Detect returns the language name for path and whether it is supported.
func Detect(path string) (string, bool) {
	l, ok := extToLang[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", false
	}
	return l.name, true
}

// Extensions lists the supported file extensions without the leading dot.
func Extensions() []string {
	out := make([]string, 0, len(extToLang))
	for ext := range extToLang {
		out = append(out, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(out)
	return out
}

// TreeSitter parses with tree-sitter grammars. It is safe for concurrent
// use; each call gets its own parser.
type TreeSitter struct{}

// NewTreeSitter returns the tree-sitter backed Parser.
func NewTreeSitter() *TreeSitter { return &TreeSitter{} }

// Parse implements Parser.
func (ts *TreeSitter) Parse(ctx context.Context, path string, src []byte) (*node.Tree, error) {
	lang, ok := extToLang[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}

	p := sitter.NewParser()
	p.SetLanguage(lang.grammar())
	st, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	root := st.RootNode()
	if root.HasError() {
		if perr := firstError(root, src); perr != nil {
			perr.File = path
			return nil, perr
		}
	}

	l := &lowerer{src: src, handlers: lang.handlers}
	mod := l.at(node.Module(l.children(root)...), root)
	tree, err := node.NewTree(path, lang.name, mod)
	if err != nil {
		return nil, fmt.Errorf("lowering %s: %w", path, err)
	}
	return tree, nil
}

// firstError finds the first ERROR or MISSING node in document order.
func firstError(n *sitter.Node, src []byte) *Error {
	if n == nil {
		return nil
	}
	if n.Type() == "ERROR" || n.IsMissing() {
		pt := n.StartPoint()
		e := &Error{Line: int(pt.Row) + 1, Column: int(pt.Column) + 1}
		if n.IsMissing() {
			e.Msg = fmt.Sprintf("missing %s", n.Type())
		} else {
			e.Msg = fmt.Sprintf("syntax error near %q", snippet(n.Content(src)))
		}
		return e
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if e := firstError(n.Child(i), src); e != nil {
			return e
		}
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 32 {
		s = s[:32] + "..."
	}
	return s
}
