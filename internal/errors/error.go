package errors

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryCompile Category = "compile"
	CategoryRuntime Category = "runtime"
	CategoryConfig  Category = "config"
	CategoryCLI     Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// Diagnostic is one message reported by the bundler.
type Diagnostic struct {
	Location *Location `json:"location,omitempty"`
	Text     string    `json:"text"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// SplitError is a structured error with source location and suggestions.
type SplitError struct {
	// Code is a unique error identifier (e.g., "E100").
	Code string

	// Category is the error type (compile, runtime, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Route is the id of the marker call the error concerns, if any.
	Route string

	// Marker is the marker identifier Route was declared with.
	Marker string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// ContextStart is the 1-based line number of Context[0].
	ContextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example is code showing the correct approach.
	Example string

	// Diagnostics are the bundler's messages for E104 and E130.
	Diagnostics []Diagnostic

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *SplitError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *SplitError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds source location to the error.
func (e *SplitError) WithLocation(file string, line, column int) *SplitError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	e.ContextStart = contextStart(line, 5)
	return e
}

// WithSource adds a location whose context lines come from in-memory source
// rather than the file on disk. The build reads the entry once, so the
// context must match the bytes that were actually parsed.
func (e *SplitError) WithSource(file string, source []byte, line, column int) *SplitError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = contextLines(strings.Split(string(source), "\n"), line, 5)
	e.ContextStart = contextStart(line, 5)
	return e
}

// WithRoute names the route id and marker the error concerns.
func (e *SplitError) WithRoute(id, marker string) *SplitError {
	e.Route = id
	e.Marker = marker
	return e
}

// WithDiagnostics attaches bundler messages. They replace Detail in the
// terminal output.
func (e *SplitError) WithDiagnostics(diags ...Diagnostic) *SplitError {
	e.Diagnostics = append(e.Diagnostics, diags...)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *SplitError) WithSuggestion(s string) *SplitError {
	e.Suggestion = s
	return e
}

// WithExample adds a code example to the error.
func (e *SplitError) WithExample(ex string) *SplitError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *SplitError) WithDetail(d string) *SplitError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *SplitError) Wrap(err error) *SplitError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var all []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	return contextLines(all, targetLine, contextSize)
}

func contextStart(targetLine, contextSize int) int {
	start := targetLine - contextSize/2
	if start < 1 {
		start = 1
	}
	return start
}

// contextLines returns up to contextSize lines centered on targetLine (1-based).
func contextLines(all []string, targetLine, contextSize int) []string {
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	var lines []string
	for i, text := range all {
		lineNum := i + 1
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, strings.TrimRight(text, "\r"))
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates a SplitError from a registered error code.
func New(code string) *SplitError {
	template, ok := registry[code]
	if !ok {
		return &SplitError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &SplitError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new SplitError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *SplitError {
	return &SplitError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a SplitError.
func FromError(err error, code string) *SplitError {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*SplitError); ok {
		return ve
	}
	return New(code).Wrap(err)
}
