package tiller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSystem(model ModelClient, opts ...SystemOption) *SteeringSystem {
	base := []SystemOption{
		WithPollInterval(2 * time.Millisecond),
		WithRetryDelays(time.Millisecond, time.Millisecond, 2*time.Millisecond, 50*time.Millisecond),
	}
	return NewSteeringSystem(model, append(base, opts...)...)
}

func TestSteeringPlainTextEcho(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"hi"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput("hello\n")
	results := readResults(t, sys.Output(), 1, 5*time.Second)

	got := kinds(results)
	if got[0] != KindStreamStart {
		t.Fatalf("kinds = %v", got)
	}
	last := results[len(results)-1]
	if last.Kind != KindAssistant || !strings.Contains(last.Content, "hi") {
		t.Fatalf("terminal = %+v", last)
	}
	if sys.Memory().Len() != 1 {
		t.Fatalf("memory items = %d, want 1", sys.Memory().Len())
	}
}

func TestSteeringStrictJSONInput(t *testing.T) {
	var seenPrompt string
	model := ModelFunc(func(_ context.Context, _ []Msg, prompt string) (string, error) {
		seenPrompt = prompt
		return "pong: " + prompt, nil
	})
	sys := newTestSystem(model)
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput(`{"type":"user","message":{"role":"user","content":{"text":"ping"}}}` + "\n")
	results := readResults(t, sys.Output(), 1, 5*time.Second)

	last := results[len(results)-1]
	if last.Kind != KindAssistant || !strings.Contains(last.Content, "ping") {
		t.Fatalf("terminal = %+v", last)
	}
	if seenPrompt != "ping" {
		t.Fatalf("prompt = %q, want %q", seenPrompt, "ping")
	}
}

func TestSteeringToolTrigger(t *testing.T) {
	tools := &echoTools{result: "4"}
	sys := newTestSystem(&scriptedModel{texts: []string{"model"}}, WithToolEngine(tools))
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput("Calculate 2+2\n")
	results := readResults(t, sys.Output(), 1, 5*time.Second)

	last := results[len(results)-1]
	if last.Kind != KindToolResult || last.Content != "4" {
		t.Fatalf("terminal = %+v", last)
	}
	if sys.Memory().Len() != 1 {
		t.Fatalf("memory items = %d", sys.Memory().Len())
	}
}

func TestSteeringPartialLinesBuffered(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"done"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	// One logical line split across three chunks.
	sys.SendInput("hel")
	sys.SendInput("lo wor")
	sys.SendInput("ld\n")

	results := readResults(t, sys.Output(), 1, 5*time.Second)
	if results[len(results)-1].Kind != KindAssistant {
		t.Fatalf("terminal = %+v", results[len(results)-1])
	}
	items := sys.Memory().Items()
	if len(items) != 1 || items[0].Input != "hello world" {
		t.Fatalf("items = %+v", items)
	}
}

func TestSteeringMultipleMessagesOneChunk(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"a1", "a2"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput("first\nsecond\n")
	results := readResults(t, sys.Output(), 2, 5*time.Second)

	var answers []string
	for _, r := range results {
		if r.Kind == KindAssistant {
			answers = append(answers, r.Content)
		}
	}
	if len(answers) != 2 || answers[0] != "a1" || answers[1] != "a2" {
		t.Fatalf("answers = %v (dispatch order violated)", answers)
	}
}

func TestSteeringSendCommandBypassesParser(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"x"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendCommand(Command{Mode: CmdSystem, Value: "agent-status"})
	results := readResults(t, sys.Output(), 1, 5*time.Second)
	if results[0].Kind != KindSystemResult {
		t.Fatalf("got %+v", results[0])
	}
}

func TestSteeringRetryFallbackEndToEnd(t *testing.T) {
	rateLimited := errors.New("Error: 429 rate limit")
	primary := &scriptedModel{name: "primary", errs: []error{rateLimited}}
	fallback := &scriptedModel{name: "backup", errs: []error{rateLimited, nil}, texts: []string{"", "ok"}}

	sys := newTestSystem(primary, WithFallbackModel(fallback))
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput("hello\n")
	results := readResults(t, sys.Output(), 1, 5*time.Second)

	got := kinds(results)
	var sawFallback bool
	for _, k := range got {
		if k == KindModelFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Fatalf("no model_fallback in %v", got)
	}
	last := results[len(results)-1]
	if last.Kind != KindAssistant || last.Content != "ok" {
		t.Fatalf("terminal = %+v", last)
	}
	if primary.callCount()+fallback.callCount() != 3 {
		t.Fatalf("attempts = %d, want 3", primary.callCount()+fallback.callCount())
	}
}

func TestSteeringAbortMidDirective(t *testing.T) {
	model := &scriptedModel{texts: []string{"slow"}, delay: 2 * time.Second}
	sys := newTestSystem(model)
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}

	sys.SendInput("hello\n")
	// Let the directive get in flight, then abort.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sys.Abort("user")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Abort did not return")
	}

	results := readResults(t, sys.Output(), 1, 5*time.Second)
	last := results[len(results)-1]
	if last.Kind != KindError || last.Content != "aborted" {
		t.Fatalf("terminal = %+v", last)
	}
	if sys.Memory().Len() != 0 {
		t.Fatal("aborted directive wrote to memory")
	}
	if !sys.Status().Closed {
		t.Fatal("status not closed after abort")
	}
}

func TestSteeringAbortedResultsPrecedeAbortObservation(t *testing.T) {
	model := &scriptedModel{texts: []string{"slow"}, delay: 2 * time.Second}
	sys := newTestSystem(model)
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}

	sys.SendInput("hello\n")
	time.Sleep(100 * time.Millisecond)
	abortTS := NowTS()
	sys.Abort("user")

	results := readResults(t, sys.Output(), 1, 5*time.Second)
	for _, r := range results {
		if (r.Kind == KindAssistant || r.Kind == KindToolResult) && r.TS > abortTS {
			t.Fatalf("substantive result after abort: %+v", r)
		}
	}
}

func TestSteeringCompactionScenario(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"answer"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.Memory().SeedTurns(turnPairs(20)...)
	sys.SendInput("one more question\n")

	results := readResults(t, sys.Output(), 1, 5*time.Second)
	got := kinds(results)

	var compactionIdx, assistantIdx = -1, -1
	for i, k := range got {
		switch k {
		case KindCompaction:
			compactionIdx = i
		case KindAssistant:
			assistantIdx = i
		}
	}
	if compactionIdx == -1 || assistantIdx == -1 || compactionIdx > assistantIdx {
		t.Fatalf("kinds = %v", got)
	}
	// Summary + last 3 retained, plus the new directive's pair.
	if turns := sys.Memory().Turns(); len(turns) != 6 {
		t.Fatalf("turns = %d, want 6", len(turns))
	}
	if sys.Memory().Len() != 1 {
		t.Fatalf("items = %d", sys.Memory().Len())
	}
}

func TestSteeringEmptyInputStaysIdle(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"x"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	sys.SendInput("\n\n")
	time.Sleep(100 * time.Millisecond)

	if sys.Output().Len() != 0 {
		t.Fatalf("output not empty: %d queued", sys.Output().Len())
	}
	if sys.Output().State() != PipeRunning {
		t.Fatal("output pipe closed without Close")
	}
	st := sys.Status()
	if st.Closed || st.Processing || !st.DriverActive {
		t.Fatalf("status = %+v", st)
	}
}

func TestSteeringStartOnce(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"x"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	defer sys.Close()
	if err := sys.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestSteeringCloseIdempotent(t *testing.T) {
	sys := newTestSystem(&scriptedModel{texts: []string{"x"}})
	if err := sys.Start(); err != nil {
		t.Fatal(err)
	}
	sys.Close()
	sys.Close()
	sys.Abort("again")

	// Output completes after close.
	msg, err := sys.Output().Read(testContext(t, time.Second))
	if err != nil || !msg.Done {
		t.Fatalf("output after close: %+v, %v", msg, err)
	}

	// Input after close is dropped, not panicking.
	sys.SendInput("late\n")
	sys.SendCommand(Command{Mode: CmdPrompt, Value: "late"})
}

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello", "hello"},
		{"json string", `"quoted"`, "quoted"},
		{"object with text", `{"text":"hi"}`, "hi"},
		{"object with content", `{"content":"inner"}`, "inner"},
		{"array of text objects", `[{"text":"a"},{"text":"b"}]`, "a\nb"},
		{"array with loose item", `[{"text":"a"},"b"]`, "a\nb"},
		{"scalar", `42`, "42"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPrompt(tt.in); got != tt.want {
				t.Fatalf("ExtractPrompt(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
