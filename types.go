package tiller

import "strings"

// --- Dialogue types ---

// Msg is one dialogue turn passed to the model and held in session memory.
type Msg struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// UserMsg builds a user turn.
func UserMsg(text string) Msg { return Msg{Role: "user", Content: text} }

// AssistantMsg builds an assistant turn.
func AssistantMsg(text string) Msg { return Msg{Role: "assistant", Content: text} }

// SystemMsg builds a system turn.
func SystemMsg(text string) Msg { return Msg{Role: "system", Content: text} }

// UserMessage is a parsed ingest message. Strict JSON envelopes produce
// Type == "user" and Role == "user"; loose text lines produce the same with
// Content set to the trimmed line. Content holds the raw content payload —
// for envelopes whose content arrived as a JSON object or array, Content is
// that JSON text and the consumer applies ExtractPrompt to obtain the prompt.
type UserMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// --- Commands ---

// CmdMode selects the executor a Command is dispatched to.
type CmdMode int

const (
	// CmdPrompt routes to the agent loop.
	CmdPrompt CmdMode = iota
	// CmdTool routes directly to the tool engine.
	CmdTool
	// CmdSystem routes to the system probe handler.
	CmdSystem
)

// String returns the mode name.
func (m CmdMode) String() string {
	switch m {
	case CmdPrompt:
		return "prompt"
	case CmdTool:
		return "tool"
	case CmdSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Command is one unit of work on the CmdQueue. Commands are created by the
// consumer (from a UserMessage) or directly via SteeringSystem.SendCommand,
// and consumed exactly once in FIFO order.
type Command struct {
	Mode  CmdMode `json:"mode"`
	Value string  `json:"value"`
	TS    int64   `json:"ts"`

	// seq is assigned by CmdQueue.Enqueue and identifies the command for
	// RemoveAll. Zero until enqueued.
	seq uint64
}

// --- Memory ---

// MemoryItem records one completed directive: the prompt that drove it and
// the output it produced.
type MemoryItem struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	TS     int64  `json:"ts"`
	Tokens int    `json:"tokens"`
}

// MemoryStats summarizes the session memory store.
type MemoryStats struct {
	Items  int `json:"items"`
	Turns  int `json:"turns"`
	Tokens int `json:"tokens"`
}

// CompressedMemory is the eight-segment structured summary produced by the
// context compactor. Immutable after creation.
type CompressedMemory struct {
	PrimaryRequest    string `json:"primary_request"`
	TechnicalConcepts string `json:"key_technical_concepts"`
	FilesAndCode      string `json:"files_and_code_sections"`
	ErrorsAndFixes    string `json:"errors_and_fixes"`
	ProblemSolving    string `json:"problem_solving"`
	AllUserMessages   string `json:"all_user_messages"`
	PendingTasks      string `json:"pending_tasks"`
	CurrentWork       string `json:"current_work"`
	TS                int64  `json:"ts"`
}

// compactedMarker prefixes the rendered summary turn so a compacted history
// is recognised and not folded again.
const compactedMarker = "[Conversation summary]"

// Render returns the summary as a single dialogue turn body.
func (c CompressedMemory) Render() string {
	var b strings.Builder
	b.WriteString(compactedMarker)
	section := func(title, body string) {
		if body == "" {
			return
		}
		b.WriteString("\n")
		b.WriteString(title)
		b.WriteString(": ")
		b.WriteString(body)
	}
	section("Primary request", c.PrimaryRequest)
	section("Key technical concepts", c.TechnicalConcepts)
	section("Files and code sections", c.FilesAndCode)
	section("Errors and fixes", c.ErrorsAndFixes)
	section("Problem solving", c.ProblemSolving)
	section("All user messages", c.AllUserMessages)
	section("Pending tasks", c.PendingTasks)
	section("Current work", c.CurrentWork)
	return b.String()
}

// --- Streaming output ---

// StreamingResult kinds. Consumers should treat unknown kinds as
// informational.
const (
	KindStreamStart       = "stream_start"
	KindCompaction        = "compaction"
	KindCompactionSummary = "compaction_summary"
	KindAssistant         = "assistant"
	KindToolResult        = "tool_result"
	KindSystemResult      = "system_result"
	KindInfo              = "info"
	KindError             = "error"
	KindModelFallback     = "model_fallback"
)

// StreamingResult is the sole output type published on the system's output
// pipe. Each directive emits a stream_start, zero or more intermediate
// results, and exactly one terminal result (assistant, tool_result, or
// error; system_result for SYSTEM commands).
type StreamingResult struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// Terminal reports whether the result ends a directive.
func (r StreamingResult) Terminal() bool {
	switch r.Kind {
	case KindAssistant, KindToolResult, KindSystemResult, KindError:
		return true
	}
	return false
}

func newResult(kind, content string) StreamingResult {
	return StreamingResult{Kind: kind, Content: content, TS: NowTS()}
}

// --- Pipes ---

// QueueMessage is the shape returned by every pipe read.
// Done == true means the pipe completed and drained; Value is the zero value.
type QueueMessage[T any] struct {
	Done  bool `json:"done"`
	Value T    `json:"value"`
}

// PipeState tracks a pipe's lifecycle. Transitions are one-way:
// running → completed or running → errored (strict error mode only).
type PipeState int32

const (
	PipeRunning PipeState = iota
	PipeCompleted
	PipeErrored
)

// String returns the state name.
func (s PipeState) String() string {
	switch s {
	case PipeRunning:
		return "running"
	case PipeCompleted:
		return "completed"
	case PipeErrored:
		return "errored"
	default:
		return "unknown"
	}
}
