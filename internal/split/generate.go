package split

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/isosplit/isosplit/internal/errors"
)

// GeneratedHeader opens every emitted module.
const GeneratedHeader = "// Code generated by isosplit. DO NOT EDIT.\n"

// DefaultTarget is the language level emitted modules are lowered to.
const DefaultTarget = api.ES2020

// CapabilitiesVersion is the current handler context version.
const CapabilitiesVersion = 1

// Capabilities is the context object every handler receives as its second
// argument. Fields are only ever added; Version is bumped when they are.
type Capabilities struct {
	Version int `json:"version"`
}

// DefaultCapabilities returns the context for the current version.
func DefaultCapabilities() Capabilities {
	return Capabilities{Version: CapabilitiesVersion}
}

// GenerateHandler returns the server handler module for r. The fragment is
// lowered from lang to plain ES module JavaScript.
func GenerateHandler(r Route, lang Language, caps Capabilities, target api.Target) ([]byte, error) {
	ctxJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "const context = Object.freeze(%s);\n\n", ctxJSON)
	b.WriteString("export async function handler(payload) {\n")
	fmt.Fprintf(&b, "  const impl = %s;\n", r.FunctionText)
	b.WriteString("  return await impl(payload, context);\n")
	b.WriteString("}\n")

	code, err := transform(b.String(), lang, r.HandlerPath, target)
	if err != nil {
		return nil, errors.New("E104").
			WithRoute(r.ID, "").
			WithDetail(fmt.Sprintf("handler for route %q: %v", r.ID, err)).
			WithDiagnostics(Diagnostics(err)...).
			Wrap(err)
	}
	return withHeader(fmt.Sprintf("route %s", jsString(r.ID)), code), nil
}

// GenerateProxy returns the client proxy module for r.
func GenerateProxy(r Route) []byte {
	id := jsString(r.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "export async function %s(props) {\n", r.ExportName)
	fmt.Fprintf(&b, "  const res = await fetch(%s, {\n", jsString(EndpointPath(r.ID)))
	b.WriteString("    method: \"POST\",\n")
	b.WriteString("    headers: { \"Content-Type\": \"application/json\" },\n")
	b.WriteString("    body: JSON.stringify(props ?? {})\n")
	b.WriteString("  });\n")
	b.WriteString("  if (!res.ok) {\n")
	fmt.Fprintf(&b, "    const err = new Error(\"API \" + %s + \" failed \" + res.status);\n", id)
	fmt.Fprintf(&b, "    err.routeId = %s;\n", id)
	b.WriteString("    err.status = res.status;\n")
	b.WriteString("    throw err;\n")
	b.WriteString("  }\n")
	b.WriteString("  return res.json();\n")
	b.WriteString("}\n")

	return withHeader(fmt.Sprintf("proxy for route %s", id), b.String())
}

// transform lowers code to an ES module at target.
func transform(code string, lang Language, sourcefile string, target api.Target) (string, error) {
	if target == api.DefaultTarget {
		target = DefaultTarget
	}
	result := api.Transform(code, api.TransformOptions{
		Loader:     lang.loader(),
		Format:     api.FormatESModule,
		Target:     target,
		Sourcefile: sourcefile,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", messagesError(result.Errors)
	}
	return string(result.Code), nil
}

// withHeader prefixes code with the generated-file header and a one-line
// description.
func withHeader(what, code string) []byte {
	var b strings.Builder
	b.WriteString(GeneratedHeader)
	b.WriteString("// ")
	b.WriteString(what)
	b.WriteString("\n\n")
	b.WriteString(code)
	return []byte(b.String())
}

// MessagesError converts esbuild diagnostics into an error listing each one.
type MessagesError []api.Message

func (m MessagesError) Error() string {
	lines := make([]string, 0, len(m))
	for _, msg := range m {
		if msg.Location != nil {
			lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column+1, msg.Text))
			continue
		}
		lines = append(lines, msg.Text)
	}
	return strings.Join(lines, "\n")
}

// Diagnostics returns the bundler messages carried by err, if any.
func Diagnostics(err error) []errors.Diagnostic {
	m, ok := err.(MessagesError)
	if !ok {
		return nil
	}
	diags := make([]errors.Diagnostic, 0, len(m))
	for _, msg := range m {
		d := errors.Diagnostic{Text: msg.Text}
		if msg.Location != nil {
			d.Location = &errors.Location{File: msg.Location.File, Line: msg.Location.Line, Column: msg.Location.Column + 1}
		}
		diags = append(diags, d)
	}
	return diags
}

func messagesError(msgs []api.Message) error {
	return MessagesError(msgs)
}
