package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
)

// detailWidth is the wrap column for detail text.
const detailWidth = 72

// renderer styles output for stderr, where errors are printed. Its color
// profile follows the terminal unless forced.
var renderer = lipgloss.NewRenderer(os.Stderr)

var (
	errorStyle  = renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	codeStyle   = renderer.NewStyle().Bold(true)
	placeStyle  = renderer.NewStyle().Foreground(lipgloss.Color("6"))
	gutterStyle = renderer.NewStyle().Foreground(lipgloss.Color("8"))
	caretStyle  = renderer.NewStyle().Foreground(lipgloss.Color("1"))
	routeStyle  = renderer.NewStyle().Foreground(lipgloss.Color("5"))
	hintStyle   = renderer.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
)

// DisableColors turns off styling, for logs and the browser overlay.
func DisableColors() {
	renderer.SetColorProfile(termenv.Ascii)
}

// EnableColors forces ANSI styling regardless of the terminal.
func EnableColors() {
	renderer.SetColorProfile(termenv.ANSI)
}

// Format renders the error for a terminal: header, the route it concerns,
// a source frame, bundler diagnostics, then detail and hints.
func (e *SplitError) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(errorStyle.Render("ERROR"))
	if e.Code != "" {
		b.WriteString(" " + codeStyle.Render(e.Code))
	}
	b.WriteString(" " + e.Message + "\n")

	if e.Route != "" {
		b.WriteString("  " + routeStyle.Render(e.routeLabel()) + "\n")
	}
	if e.Location != nil {
		b.WriteString("  " + placeStyle.Render(e.Location.String()) + "\n")
		writeFrame(&b, e)
	}
	b.WriteString("\n")

	if len(e.Diagnostics) > 0 {
		b.WriteString("  esbuild reported:\n")
		for _, d := range e.Diagnostics {
			b.WriteString("    ")
			if d.Location != nil {
				b.WriteString(placeStyle.Render(d.Location.String()) + "  ")
			}
			b.WriteString(d.Text + "\n")
		}
		b.WriteString("\n")
	} else if e.Detail != "" {
		for _, line := range strings.Split(wordwrap.String(e.Detail, detailWidth), "\n") {
			b.WriteString("  " + line + "\n")
		}
		b.WriteString("\n")
	}

	if e.Suggestion != "" {
		b.WriteString("  " + hintStyle.Render("Hint:") + " " + e.Suggestion + "\n\n")
	}
	if e.Example != "" {
		b.WriteString("  " + hintStyle.Render("Example:") + "\n")
		for _, line := range strings.Split(e.Example, "\n") {
			b.WriteString("    " + line + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// writeFrame prints the context lines with a gutter sized to the largest
// line number, an arrow on the failing line and a caret under its column.
func writeFrame(b *strings.Builder, e *SplitError) {
	if len(e.Context) == 0 {
		return
	}
	first := e.ContextStart
	if first == 0 {
		first = contextStart(e.Location.Line, len(e.Context))
	}
	width := len(strconv.Itoa(first + len(e.Context) - 1))

	b.WriteString("\n")
	for i, text := range e.Context {
		n := first + i
		mark := "  "
		if n == e.Location.Line {
			mark = caretStyle.Render("→ ")
		}
		fmt.Fprintf(b, "  %s%*d %s %s\n", mark, width, n, gutterStyle.Render("│"), text)
		if n == e.Location.Line && e.Location.Column > 0 {
			pad := strings.Repeat(" ", width+1)
			fmt.Fprintf(b, "    %s%s %s%s\n", pad, gutterStyle.Render("│"), caretIndent(text, e.Location.Column), caretStyle.Render("^"))
		}
	}
}

// caretIndent reproduces the tabs before column so the caret lines up.
func caretIndent(line string, column int) string {
	var b strings.Builder
	for i := 0; i < column-1; i++ {
		if i < len(line) && line[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func (e *SplitError) routeLabel() string {
	label := "route " + strconv.Quote(e.Route)
	if e.Marker != "" {
		label += " (" + e.Marker + ")"
	}
	return label
}

// FormatCompact returns "file:line:col: CODE: message" with the route when
// one is known.
func (e *SplitError) FormatCompact() string {
	var b strings.Builder
	if e.Location != nil {
		b.WriteString(e.Location.String() + ": ")
	}
	if e.Code != "" {
		b.WriteString(e.Code + ": ")
	}
	b.WriteString(e.Message)
	if e.Route != "" {
		b.WriteString(" [" + e.routeLabel() + "]")
	}
	return b.String()
}

// FormatJSON returns the error as a JSON object, for `--json` outputs and
// editor integrations.
func (e *SplitError) FormatJSON() string {
	out := struct {
		Code        string       `json:"code,omitempty"`
		Category    Category     `json:"category"`
		Message     string       `json:"message"`
		Detail      string       `json:"detail,omitempty"`
		Route       string       `json:"route,omitempty"`
		Marker      string       `json:"marker,omitempty"`
		Location    *Location    `json:"location,omitempty"`
		Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
		Suggestion  string       `json:"suggestion,omitempty"`
	}{e.Code, e.Category, e.Message, e.Detail, e.Route, e.Marker, e.Location, e.Diagnostics, e.Suggestion}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Error())
	}
	return string(data)
}

// PrintError prints err to stderr, formatted when it carries a SplitError.
func PrintError(err error) {
	fprintError(os.Stderr, err)
}

func fprintError(w io.Writer, err error) {
	var se *SplitError
	if stderrors.As(err, &se) {
		io.WriteString(w, se.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", errorStyle.Render("ERROR"), err)
}
