// Package tools is the shipped ToolEngine: an arithmetic calculator, a
// sandboxed file reader/writer with PDF text extraction, and a URL reader
// that extracts readable article text. Free-form trigger commands
// ("Calculate 2+2", "read notes.txt", "search https://…") are parsed into a
// tool and an argument; structured invocation goes through
// ExecuteWithParams.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tiller "github.com/tillerhq/tiller"
)

// Engine implements tiller.ToolEngine over the built-in tools.
type Engine struct {
	calc   *Calc
	files  *Files
	search *Search
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSandbox sets the root directory file operations are confined to.
// Default is the process working directory.
func WithSandbox(root string) Option {
	return func(e *Engine) { e.files = NewFiles(root) }
}

// WithHTTPClient replaces the search tool's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.search = NewSearch(c) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with all built-in tools.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		calc:   NewCalc(),
		files:  NewFiles("."),
		search: NewSearch(nil),
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ tiller.ToolEngine = (*Engine)(nil)

// Execute parses a trigger command and runs the matching tool. The first
// recognised keyword wins; its argument is the text that follows.
func (e *Engine) Execute(ctx context.Context, command string) (string, error) {
	name, arg := splitCommand(command)
	e.logger.Debug("tool command", "tool", name, "arg_len", len(arg))

	switch name {
	case "calculate", "calc":
		return e.calc.Eval(arg)
	case "read":
		return e.files.Read(arg)
	case "write":
		path, content, ok := strings.Cut(arg, " ")
		if !ok {
			return "", fmt.Errorf("write needs a path and content")
		}
		return e.files.Write(path, content)
	case "search":
		return e.search.Fetch(ctx, arg)
	default:
		return "", fmt.Errorf("no tool matches command %q", firstWord(command))
	}
}

// ExecuteWithParams invokes a named tool with structured parameters.
func (e *Engine) ExecuteWithParams(ctx context.Context, name string, params map[string]any) (string, error) {
	str := func(key string) string {
		v, _ := params[key].(string)
		return v
	}
	switch name {
	case "calc":
		return e.calc.Eval(str("expression"))
	case "file_read":
		return e.files.Read(str("path"))
	case "file_write":
		return e.files.Write(str("path"), str("content"))
	case "search":
		return e.search.Fetch(ctx, str("url"))
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// splitCommand finds the first recognised keyword in the command and returns
// it with the remainder of the command as the argument. Trigger tokens may
// appear mid-sentence ("please calculate 2+2").
func splitCommand(command string) (name, arg string) {
	fields := strings.Fields(command)
	for i, f := range fields {
		switch strings.ToLower(strings.Trim(f, ":,")) {
		case "calculate", "calc":
			return "calculate", strings.Join(fields[i+1:], " ")
		case "read":
			return "read", strings.Join(fields[i+1:], " ")
		case "write":
			return "write", strings.Join(fields[i+1:], " ")
		case "search":
			return "search", strings.Join(fields[i+1:], " ")
		}
	}
	return "", command
}

func firstWord(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}
