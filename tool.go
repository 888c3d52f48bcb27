package tiller

import "context"

// ToolEngine executes tool commands on behalf of the agent loop and the
// processor's TOOL dispatch path. Tool selection belongs to the engine; the
// core only decides whether to call it, by matching trigger tokens in the
// prompt.
type ToolEngine interface {
	// Execute parses a free-form trigger command (e.g. "Calculate 2+2") and
	// runs the matching tool. A non-nil error is converted by the core into
	// a tool_result carrying an error body; the directive still completes.
	Execute(ctx context.Context, command string) (string, error)
	// ExecuteWithParams invokes a named tool directly with structured
	// parameters, bypassing command parsing.
	ExecuteWithParams(ctx context.Context, name string, params map[string]any) (string, error)
}

// defaultTriggerTokens decide whether a prompt is routed to the tool engine
// instead of the model. Matching is case-insensitive; configurable via
// LoopTriggerTokens.
var defaultTriggerTokens = []string{"calculate", "read", "search", "tool"}
