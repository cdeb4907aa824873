package split

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/isosplit/isosplit/internal/errors"
)

// Language is the grammar a source file is parsed with.
type Language int

const (
	LangJavaScript Language = iota
	LangJSX
	LangTypeScript
	LangTSX
)

// LanguageFor picks the grammar from the file extension.
func LanguageFor(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return LangTypeScript
	case ".tsx":
		return LangTSX
	case ".jsx":
		return LangJSX
	default:
		return LangJavaScript
	}
}

func (l Language) String() string {
	switch l {
	case LangTypeScript:
		return "typescript"
	case LangTSX:
		return "tsx"
	case LangJSX:
		return "jsx"
	default:
		return "javascript"
	}
}

func (l Language) grammar() *sitter.Language {
	switch l {
	case LangTypeScript:
		return typescript.GetLanguage()
	case LangTSX:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// loader is the esbuild loader that turns text in this language into
// JavaScript.
func (l Language) loader() api.Loader {
	switch l {
	case LangTypeScript:
		return api.LoaderTS
	case LangTSX:
		return api.LoaderTSX
	case LangJSX:
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// Source is a parsed annotated module.
type Source struct {
	// Path is the file the content was read from, used for messages and for
	// resolving relative import specifiers.
	Path string

	// Content is the exact text that was parsed.
	Content []byte

	// Lang is the grammar used.
	Lang Language

	tree *sitter.Tree
}

// Parse parses content as an ES module. Any syntax error fails with E100;
// the tree is never used partially.
func Parse(ctx context.Context, path string, content []byte) (*Source, error) {
	lang := LanguageFor(path)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.grammar())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, errors.New("E100").
			WithDetail("parser failed: " + err.Error()).
			Wrap(err)
	}

	root := tree.RootNode()
	if root.HasError() {
		bad := firstErrorNode(root)
		if bad == nil {
			bad = root
		}
		pos := bad.StartPoint()
		detail := "unexpected syntax"
		if bad.IsMissing() {
			detail = "missing " + strings.TrimPrefix(bad.Type(), "MISSING ")
		}
		tree.Close()
		return nil, errors.New("E100").
			WithSource(path, content, int(pos.Row)+1, int(pos.Column)+1).
			WithDetail(detail + " in " + filepath.Base(path))
	}

	return &Source{
		Path:    path,
		Content: content,
		Lang:    lang,
		tree:    tree,
	}, nil
}

// Root returns the program node.
func (s *Source) Root() *sitter.Node {
	return s.tree.RootNode()
}

// Close releases the syntax tree.
func (s *Source) Close() {
	if s.tree != nil {
		s.tree.Close()
		s.tree = nil
	}
}

// Text returns the verbatim source text spanned by n.
func (s *Source) Text(n *sitter.Node) string {
	return string(s.Content[n.StartByte():n.EndByte()])
}

// Dir returns the directory of the source file.
func (s *Source) Dir() string {
	return filepath.Dir(s.Path)
}

// firstErrorNode returns the first ERROR or MISSING node in document order.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstErrorNode(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}

// namedChildren returns the named children of n, skipping comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

// walk visits n and every descendant in document order. Returning false from
// visit skips the node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

func position(n *sitter.Node) (line, column int) {
	p := n.StartPoint()
	return int(p.Row) + 1, int(p.Column) + 1
}
