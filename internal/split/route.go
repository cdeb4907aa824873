package split

import (
	"net/url"
	"path"
	"strings"
)

// RPCPrefix is the URL prefix every route is served under.
const RPCPrefix = "/api/_rpc/"

// Route is one splittable unit: a top-level binding initialized with a
// marker call whose id is a string literal and whose handler is a function
// literal.
type Route struct {
	// ID is the literal route id. It names the endpoint and the artifact files.
	ID string

	// Binding is the identifier the declaration bound. The client rewrite
	// imports the proxy under this name so call sites stay unchanged.
	Binding string

	// FunctionText is the handler literal, verbatim.
	FunctionText string

	// ExportName is the proxy's exported function name.
	ExportName string

	// HandlerPath is the handler module path relative to the server tree.
	HandlerPath string

	// ClientPath is the proxy module path relative to the client tree.
	ClientPath string

	// Exported is set when the declaration carried an export keyword.
	Exported bool

	// Line and Column locate the marker call in the source (1-based).
	Line   int
	Column int
}

// NewRoute derives the artifact locations for id.
func NewRoute(id, binding, functionText string) Route {
	return Route{
		ID:           id,
		Binding:      binding,
		FunctionText: functionText,
		ExportName:   ExportName(id),
		HandlerPath:  path.Join("routes", id+".js"),
		ClientPath:   path.Join("proxies", id+".js"),
	}
}

// ExportName sanitizes id into a JavaScript identifier: characters outside
// [A-Za-z0-9_$] become '_' and a leading digit gets a '_' prefix.
func ExportName(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case r == '_' || r == '$',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// EndpointPath returns the URL path the proxy for id posts to.
func EndpointPath(id string) string {
	return RPCPrefix + url.PathEscape(id)
}

// validID reports whether id can be used as a file name and URL segment.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return false
	}
	return true
}
