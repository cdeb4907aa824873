package split

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/isosplit/isosplit/internal/errors"
)

// functionLiteralTypes are the node types accepted as a handler argument.
var functionLiteralTypes = map[string]bool{
	"arrow_function":                true,
	"function":                      true,
	"function_expression":           true,
	"generator_function":            true,
	"generator_function_expression": true,
}

// markerCall is a call of the form marker("<id>", <function literal>).
type markerCall struct {
	node *sitter.Node
	id   string
	fn   *sitter.Node
}

// matchMarkerCall reports whether n is a well-shaped marker call. Calls with a
// computed id, a non-literal handler or a different arity do not match and
// are left to the rewrite as ordinary code.
func (s *Source) matchMarkerCall(n *sitter.Node, marker string) (markerCall, bool) {
	if n == nil || n.Type() != "call_expression" {
		return markerCall{}, false
	}
	callee := n.ChildByFieldName("function")
	if callee == nil || callee.Type() != "identifier" || s.Text(callee) != marker {
		return markerCall{}, false
	}
	args := namedChildren(n.ChildByFieldName("arguments"))
	if len(args) != 2 {
		return markerCall{}, false
	}
	if args[0].Type() != "string" || !functionLiteralTypes[args[1].Type()] {
		return markerCall{}, false
	}
	id, ok := stringValue(s.Text(args[0]))
	if !ok {
		return markerCall{}, false
	}
	return markerCall{node: n, id: id, fn: args[1]}, true
}

// declaration is a top-level variable statement, possibly wrapped in export.
type declaration struct {
	// stmt is the node to replace: the export statement when exported.
	stmt *sitter.Node
	// decl is the lexical_declaration or variable_declaration.
	decl     *sitter.Node
	exported bool
}

// topLevelDeclarations returns the program's variable statements in order.
func (s *Source) topLevelDeclarations() []declaration {
	var out []declaration
	for _, child := range namedChildren(s.Root()) {
		switch child.Type() {
		case "lexical_declaration", "variable_declaration":
			out = append(out, declaration{stmt: child, decl: child})
		case "export_statement":
			inner := child.ChildByFieldName("declaration")
			if inner != nil && (inner.Type() == "lexical_declaration" || inner.Type() == "variable_declaration") {
				out = append(out, declaration{stmt: child, decl: inner, exported: true})
			}
		}
	}
	return out
}

// declarator is one `name = value` inside a declaration, with its match.
type declarator struct {
	node    *sitter.Node
	name    string
	call    markerCall
	matched bool
}

// declarators splits a declaration into matched and unmatched declarators.
func (s *Source) declarators(d declaration, marker string) []declarator {
	var out []declarator
	for _, child := range namedChildren(d.decl) {
		if child.Type() != "variable_declarator" {
			continue
		}
		dr := declarator{node: child}
		name := child.ChildByFieldName("name")
		if name != nil && name.Type() == "identifier" {
			dr.name = s.Text(name)
			if call, ok := s.matchMarkerCall(child.ChildByFieldName("value"), marker); ok {
				dr.call = call
				dr.matched = true
			}
		}
		out = append(out, dr)
	}
	return out
}

// Detect returns the routes declared in src, in declaration order.
//
// Only top-level declarations are split. A well-shaped marker call anywhere
// else fails with E102 instead of being silently left in the client. Invalid
// ids fail with E103 and collisions with E101; all checks complete before the
// caller writes anything.
func Detect(src *Source, marker string) ([]Route, error) {
	var routes []Route
	consumed := make(map[uint32]bool)

	for _, d := range src.topLevelDeclarations() {
		for _, dr := range src.declarators(d, marker) {
			if !dr.matched {
				continue
			}
			consumed[dr.call.node.StartByte()] = true

			route := NewRoute(dr.call.id, dr.name, src.Text(dr.call.fn))
			route.Exported = d.exported
			route.Line, route.Column = position(dr.call.node)
			routes = append(routes, route)
		}
	}

	var stray *markerCall
	walk(src.Root(), func(n *sitter.Node) bool {
		if stray != nil {
			return false
		}
		if call, ok := src.matchMarkerCall(n, marker); ok && !consumed[n.StartByte()] {
			stray = &call
			return false
		}
		return true
	})
	if stray != nil {
		line, col := position(stray.node)
		return nil, errors.New("E102").
			WithRoute(stray.id, marker).
			WithSource(src.Path, src.Content, line, col).
			WithDetail(fmt.Sprintf("%s(%q, ...) is not the initializer of a top-level declaration, so it cannot be split.", marker, stray.id)).
			WithSuggestion("Move the call to a top-level const declaration and reference the binding instead").
			WithExample(fmt.Sprintf("const handler = %s(%q, async (props) => { ... })", marker, stray.id))
	}

	if err := validateRoutes(src, routes, marker); err != nil {
		return nil, err
	}
	return routes, nil
}

// validateRoutes rejects unusable ids and any two routes that would share an
// endpoint, an artifact file or a proxy export name. File names are compared
// case-insensitively so the build behaves the same on every filesystem.
func validateRoutes(src *Source, routes []Route, marker string) error {
	byID := make(map[string]Route, len(routes))
	byFile := make(map[string]Route, len(routes))
	byExport := make(map[string]Route, len(routes))

	for _, r := range routes {
		if !validID(r.ID) {
			return errors.New("E103").
				WithRoute(r.ID, marker).
				WithSource(src.Path, src.Content, r.Line, r.Column).
				WithDetail(fmt.Sprintf("route id %q cannot be used as a file name", r.ID))
		}

		var prev Route
		var reason string
		if p, ok := byID[r.ID]; ok {
			prev, reason = p, fmt.Sprintf("route id %q is declared twice", r.ID)
		} else if p, ok := byFile[strings.ToLower(r.ID)]; ok {
			prev, reason = p, fmt.Sprintf("route ids %q and %q map to the same artifact file", p.ID, r.ID)
		} else if p, ok := byExport[r.ExportName]; ok {
			prev, reason = p, fmt.Sprintf("route ids %q and %q both produce the proxy export %s", p.ID, r.ID, r.ExportName)
		}
		if reason != "" {
			return errors.New("E101").
				WithRoute(r.ID, marker).
				WithSource(src.Path, src.Content, r.Line, r.Column).
				WithDetail(fmt.Sprintf("%s (first declared at line %d).", reason, prev.Line)).
				WithSuggestion("Give each marker call a unique id")
		}

		byID[r.ID] = r
		byFile[strings.ToLower(r.ID)] = r
		byExport[r.ExportName] = r
	}
	return nil
}
