package tiller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedModel returns canned outcomes in order, then repeats the last one.
// Safe for concurrent use.
type scriptedModel struct {
	name  string
	mu    sync.Mutex
	calls int
	texts []string
	errs  []error
	// delay, when set, blocks each call until it elapses or ctx is done.
	delay time.Duration
}

func (m *scriptedModel) Name() string {
	if m.name == "" {
		return "scripted"
	}
	return m.name
}

func (m *scriptedModel) Invoke(ctx context.Context, _ []Msg, _ string) (string, error) {
	m.mu.Lock()
	i := m.calls
	m.calls++
	m.mu.Unlock()

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if i >= len(m.texts) && len(m.texts) > 0 {
		i = len(m.texts) - 1
	}
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.texts) {
		return m.texts[i], nil
	}
	return "", errors.New("scripted model exhausted")
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// echoTools is a ToolEngine that records commands and returns a fixed result.
type echoTools struct {
	mu       sync.Mutex
	commands []string
	result   string
	err      error
}

func (t *echoTools) Execute(_ context.Context, command string) (string, error) {
	t.mu.Lock()
	t.commands = append(t.commands, command)
	t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	return t.result, nil
}

func (t *echoTools) ExecuteWithParams(_ context.Context, name string, _ map[string]any) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return t.result, nil
}

// collectStream drains a RunStream sequence into a slice.
func collectStream(l *AgentLoop, history []Msg, prompt string) []StreamingResult {
	var out []StreamingResult
	for r := range l.RunStream(context.Background(), history, prompt) {
		out = append(out, r)
	}
	return out
}

// readResults reads from a result pipe until n terminal results have been
// seen or the deadline passes.
func readResults(t *testing.T, out *Pipe[StreamingResult], terminals int, timeout time.Duration) []StreamingResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var results []StreamingResult
	seen := 0
	for seen < terminals {
		msg, err := out.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out after %d results (wanted %d terminals): %v", len(results), terminals, results)
			}
			continue
		}
		if msg.Done {
			break
		}
		results = append(results, msg.Value)
		if msg.Value.Terminal() {
			seen++
		}
	}
	return results
}

// testContext returns a context that expires with the test.
func testContext(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// kinds projects results to their kind tags.
func kinds(results []StreamingResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Kind
	}
	return out
}

// fastLoopOpts returns loop options with millisecond retry delays and fixed
// jitter so retry tests run instantly and deterministically.
func fastLoopOpts(opts ...LoopOption) []LoopOption {
	base := []LoopOption{
		LoopRetryDelays(time.Millisecond, time.Millisecond, 2*time.Millisecond, 50*time.Millisecond),
	}
	return append(base, opts...)
}
