package split

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/isosplit/isosplit/internal/errors"
)

// RewriteOptions controls the client rewrite.
type RewriteOptions struct {
	// Marker is the marker function name.
	Marker string

	// MarkerModule is the absolute path of the marker-definition module,
	// without extension.
	MarkerModule string

	// MarkerSpecifier optionally matches the marker module by its bare
	// import specifier as well.
	MarkerSpecifier string

	// ClientModule is the absolute path of the client-safe module, without
	// extension.
	ClientModule string

	// ClientSpecifier replaces imports matched through MarkerSpecifier.
	ClientSpecifier string

	// OutDir is the directory the rewritten module will be written to.
	// Relative specifiers are relocated to resolve from there.
	OutDir string

	// Target is the emitted language level.
	Target api.Target
}

// edit replaces the byte range [start, end) with text.
type edit struct {
	start, end uint32
	text       string
}

// moduleExtensions are stripped when comparing a specifier with a module path.
var moduleExtensions = []string{".d.ts", ".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// Rewrite produces the client entry module: consumed declarations removed,
// marker imports pointed at the client module, relative imports relocated to
// opts.OutDir, and one proxy import per route prepended in route order.
// The result is plain ES module JavaScript.
func Rewrite(src *Source, routes []Route, opts RewriteOptions) ([]byte, error) {
	var removals []edit
	for _, d := range src.topLevelDeclarations() {
		if e, ok := src.declarationEdit(d, opts); ok {
			removals = append(removals, e)
		}
	}

	edits := append(src.specifierEdits(src.Root(), removals, opts), removals...)

	body := applyEdits(src.Content, edits)

	var b strings.Builder
	for _, r := range routes {
		fmt.Fprintf(&b, "import { %s as %s } from %s;\n", r.ExportName, r.Binding, jsString("./"+r.ClientPath))
	}
	if len(routes) > 0 {
		b.WriteString("\n")
	}
	b.Write(body)

	code, err := transform(b.String(), src.Lang, src.Path, opts.Target)
	if err != nil {
		return nil, errors.New("E104").
			WithDetail(fmt.Sprintf("client entry rewritten from %s does not compile:\n%v", src.Path, err)).
			WithDiagnostics(Diagnostics(err)...).
			Wrap(err)
	}
	return withHeader("client entry for "+filepath.Base(src.Path), code), nil
}

// declarationEdit returns the edit that removes the consumed declarators of
// d, or false when d has none. Unmatched declarators of the same statement
// are kept, with their specifiers rewritten; exported consumed bindings are
// re-exported so the module's export surface is unchanged.
func (s *Source) declarationEdit(d declaration, opts RewriteOptions) (edit, bool) {
	var kept, consumed []string
	for _, dr := range s.declarators(d, opts.Marker) {
		if dr.matched {
			consumed = append(consumed, dr.name)
		} else {
			kept = append(kept, s.rewrittenText(dr.node, opts))
		}
	}
	if len(consumed) == 0 {
		return edit{}, false
	}

	var parts []string
	if len(kept) > 0 {
		stmt := s.Text(d.decl.Child(0)) + " " + strings.Join(kept, ", ") + ";"
		if d.exported {
			stmt = "export " + stmt
		}
		parts = append(parts, stmt)
	}
	if d.exported {
		parts = append(parts, "export { "+strings.Join(consumed, ", ")+" };")
	}
	return edit{start: d.stmt.StartByte(), end: d.stmt.EndByte(), text: strings.Join(parts, "\n")}, true
}

// specifierEdits returns the specifier rewrites under root, skipping nodes
// inside the skip ranges.
func (s *Source) specifierEdits(root *sitter.Node, skip []edit, opts RewriteOptions) []edit {
	var edits []edit
	walk(root, func(n *sitter.Node) bool {
		for _, r := range skip {
			if n.StartByte() >= r.start && n.EndByte() <= r.end {
				return false
			}
		}
		lit := s.specifierNode(n)
		if lit == nil {
			return true
		}
		spec, ok := stringValue(s.Text(lit))
		if !ok {
			return true
		}
		if rewritten := s.rewriteSpecifier(spec, opts); rewritten != spec {
			edits = append(edits, edit{start: lit.StartByte(), end: lit.EndByte(), text: jsString(rewritten)})
		}
		return true
	})
	return edits
}

// rewrittenText returns the text of n with its specifiers rewritten.
func (s *Source) rewrittenText(n *sitter.Node, opts RewriteOptions) string {
	start := n.StartByte()
	edits := s.specifierEdits(n, nil, opts)
	for i := range edits {
		edits[i].start -= start
		edits[i].end -= start
	}
	return string(applyEdits([]byte(s.Text(n)), edits))
}

// specifierNode returns the string literal holding a module specifier when n
// is an import, a re-export, a require call or a dynamic import.
func (s *Source) specifierNode(n *sitter.Node) *sitter.Node {
	switch n.Type() {
	case "import_statement", "export_statement":
		if lit := n.ChildByFieldName("source"); lit != nil && lit.Type() == "string" {
			return lit
		}
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return nil
		}
		if fn.Type() != "import" && !(fn.Type() == "identifier" && s.Text(fn) == "require") {
			return nil
		}
		args := namedChildren(n.ChildByFieldName("arguments"))
		if len(args) == 1 && args[0].Type() == "string" {
			return args[0]
		}
	}
	return nil
}

// rewriteSpecifier maps one specifier for the client entry.
func (s *Source) rewriteSpecifier(spec string, opts RewriteOptions) string {
	if opts.MarkerSpecifier != "" && spec == opts.MarkerSpecifier && opts.ClientSpecifier != "" {
		return opts.ClientSpecifier
	}
	if !isRelative(spec) {
		return spec
	}

	target := filepath.Join(s.Dir(), filepath.FromSlash(spec))
	if opts.MarkerModule != "" && opts.ClientModule != "" {
		base, ext := splitExt(target)
		if base == filepath.Clean(opts.MarkerModule) {
			target = filepath.Clean(opts.ClientModule) + ext
		}
	}
	if opts.OutDir == "" {
		return relativeSpecifier(s.Dir(), target)
	}
	return relativeSpecifier(opts.OutDir, target)
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// splitExt strips a known module extension.
func splitExt(p string) (base, ext string) {
	for _, e := range moduleExtensions {
		if strings.HasSuffix(p, e) {
			return strings.TrimSuffix(p, e), e
		}
	}
	return p, ""
}

// relativeSpecifier renders target as a relative import specifier from dir.
func relativeSpecifier(dir, target string) string {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "../") && rel != ".." {
		rel = "./" + rel
	}
	return rel
}

// applyEdits applies non-overlapping edits to content.
func applyEdits(content []byte, edits []edit) []byte {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	out := make([]byte, 0, len(content))
	var pos uint32
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		out = append(out, content[pos:e.start]...)
		out = append(out, e.text...)
		pos = e.end
	}
	return append(out, content[pos:]...)
}
