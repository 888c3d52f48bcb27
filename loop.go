package tiller

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Retry defaults per the steering configuration surface.
const (
	defaultMaxRetries     = 3
	defaultTransientDelay = 1 * time.Second
	defaultUnknownDelay   = 2 * time.Second
	defaultRateLimitFloor = 5 * time.Second
	defaultMaxRetryDelay  = 60 * time.Second
)

// AgentLoop executes one directive end-to-end: security gate, context
// compaction, model call with retry and fallback, optional tool call, memory
// update. One loop instance runs one directive at a time; the processor
// enforces the single-in-flight invariant.
//
// Abort is idempotent and observed at every suspension point — before the
// model call, between retries, and during backoff sleeps. An aborted
// directive terminates with an error result and never writes to memory.
type AgentLoop struct {
	primary    ModelClient
	fallback   ModelClient
	tools      ToolEngine
	gate       *SecurityGate
	special    Specialization
	mem        *Memory
	compactor  *Compactor
	classifier *Classifier
	tracer     Tracer
	logger     *slog.Logger

	maxRetries     int
	transientDelay time.Duration
	unknownDelay   time.Duration
	rateLimitFloor time.Duration
	maxDelay       time.Duration
	triggers       []string

	// jitter returns a factor in [0.75, 1.25]; replaceable in tests.
	jitter func() float64

	abortOnce sync.Once
	abortCh   chan struct{}
	inflight  atomic.Bool
}

// LoopOption configures an AgentLoop.
type LoopOption func(*AgentLoop)

// LoopFallback sets the secondary model client used after the first
// retryable failure within a directive.
func LoopFallback(m ModelClient) LoopOption {
	return func(l *AgentLoop) { l.fallback = m }
}

// LoopToolEngine sets the tool engine consulted for trigger-token prompts.
func LoopToolEngine(t ToolEngine) LoopOption {
	return func(l *AgentLoop) { l.tools = t }
}

// LoopSecurityGate sets the prompt gate. Nil disables gating.
func LoopSecurityGate(g *SecurityGate) LoopOption {
	return func(l *AgentLoop) { l.gate = g }
}

// LoopSpecialization sets the per-prompt hint provider.
func LoopSpecialization(s Specialization) LoopOption {
	return func(l *AgentLoop) { l.special = s }
}

// LoopCompactor sets the history compactor. Nil disables compaction.
func LoopCompactor(c *Compactor) LoopOption {
	return func(l *AgentLoop) { l.compactor = c }
}

// LoopClassifier replaces the failure classifier.
func LoopClassifier(c *Classifier) LoopOption {
	return func(l *AgentLoop) { l.classifier = c }
}

// LoopTracer sets the tracer. Nil skips spans.
func LoopTracer(t Tracer) LoopOption {
	return func(l *AgentLoop) { l.tracer = t }
}

// LoopLogger sets the structured logger.
func LoopLogger(lg *slog.Logger) LoopOption {
	return func(l *AgentLoop) { l.logger = lg }
}

// LoopMaxRetries sets the model call attempt budget (default 3).
func LoopMaxRetries(n int) LoopOption {
	return func(l *AgentLoop) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// LoopRetryDelays sets the backoff parameters: transient base, unknown base,
// rate-limit floor, and the overall delay cap. Zero values keep defaults.
func LoopRetryDelays(transient, unknown, rateFloor, max time.Duration) LoopOption {
	return func(l *AgentLoop) {
		if transient > 0 {
			l.transientDelay = transient
		}
		if unknown > 0 {
			l.unknownDelay = unknown
		}
		if rateFloor > 0 {
			l.rateLimitFloor = rateFloor
		}
		if max > 0 {
			l.maxDelay = max
		}
	}
}

// LoopJitterRange sets the backoff jitter bounds (default 0.75 to 1.25).
func LoopJitterRange(low, high float64) LoopOption {
	return func(l *AgentLoop) {
		if low > 0 && high >= low {
			l.jitter = func() float64 { return low + rand.Float64()*(high-low) }
		}
	}
}

// LoopTriggerTokens replaces the tool trigger token set (case-insensitive).
func LoopTriggerTokens(tokens ...string) LoopOption {
	return func(l *AgentLoop) { l.triggers = tokens }
}

// NewAgentLoop creates a loop around the primary model client and session
// memory.
func NewAgentLoop(primary ModelClient, mem *Memory, opts ...LoopOption) *AgentLoop {
	l := &AgentLoop{
		primary:        primary,
		mem:            mem,
		classifier:     NewClassifier(nil),
		logger:         nopLogger,
		maxRetries:     defaultMaxRetries,
		transientDelay: defaultTransientDelay,
		unknownDelay:   defaultUnknownDelay,
		rateLimitFloor: defaultRateLimitFloor,
		maxDelay:       defaultMaxRetryDelay,
		triggers:       defaultTriggerTokens,
		jitter:         func() float64 { return 0.75 + rand.Float64()*0.5 },
		abortCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Abort requests cancellation. Idempotent; every subsequent suspension point
// observes it. A loop that has been aborted stays aborted — steer further
// directives through a fresh SteeringSystem.
func (l *AgentLoop) Abort() {
	l.abortOnce.Do(func() { close(l.abortCh) })
}

// Running reports whether a directive is currently in flight.
func (l *AgentLoop) Running() bool { return l.inflight.Load() }

// Run executes one directive and returns its terminal result. Intermediate
// results (stream_start, compaction, model_fallback) are not surfaced; use
// RunStream when they matter.
func (l *AgentLoop) Run(ctx context.Context, history []Msg, prompt string) StreamingResult {
	var terminal StreamingResult
	for r := range l.RunStream(ctx, history, prompt) {
		if r.Terminal() {
			terminal = r
		}
	}
	return terminal
}

// RunStream executes one directive, yielding every StreamingResult in causal
// order. Exactly one terminal result (assistant, tool_result, or error) ends
// the sequence.
func (l *AgentLoop) RunStream(ctx context.Context, history []Msg, prompt string) iter.Seq[StreamingResult] {
	return func(yield func(StreamingResult) bool) {
		l.inflight.Store(true)
		defer l.inflight.Store(false)
		l.run(ctx, history, prompt, yield)
	}
}

func (l *AgentLoop) run(ctx context.Context, history []Msg, prompt string, yield func(StreamingResult) bool) {
	ctx, cancel := l.watchAbort(ctx)
	defer cancel()

	var span Span
	if l.tracer != nil {
		ctx, span = l.tracer.Start(ctx, "steer.directive",
			IntAttr("history_turns", len(history)))
		defer span.End()
	}

	if !yield(newResult(KindStreamStart, "")) {
		return
	}

	if l.gate != nil {
		if err := l.gate.Check(prompt); err != nil {
			l.logger.Warn("directive rejected", "error", err)
			if span != nil {
				span.Error(err)
			}
			yield(newResult(KindError, err.Error()))
			return
		}
	}

	if l.compactor != nil {
		if compacted, summary, ok := l.compactor.Compact(history); ok {
			original := len(history)
			history = compacted
			if l.mem != nil {
				l.mem.ReplaceTurns(compacted)
			}
			if span != nil {
				span.Event("compaction", IntAttr("turns", len(compacted)))
			}
			if !yield(newResult(KindCompaction, compactionNote(original, len(compacted)))) {
				return
			}
			if !yield(newResult(KindCompactionSummary, summary.Render())) {
				return
			}
		}
	}

	if l.isAborted(ctx) {
		yield(newResult(KindError, ErrAborted.Error()))
		return
	}

	if l.tools != nil && l.triggered(prompt) {
		l.runTool(ctx, span, prompt, yield)
		return
	}

	l.runModel(ctx, span, history, prompt, yield)
}

// runTool dispatches the prompt to the tool engine. The tool result replaces
// the model output for this directive; a tool failure is reported as a
// tool_result with an error body and the directive still completes.
func (l *AgentLoop) runTool(ctx context.Context, span Span, prompt string, yield func(StreamingResult) bool) {
	out, err := l.tools.Execute(ctx, prompt)
	if err != nil {
		if l.isAborted(ctx) {
			yield(newResult(KindError, ErrAborted.Error()))
			return
		}
		l.logger.Warn("tool failed", "error", err)
		if span != nil {
			span.Error(err)
		}
		yield(newResult(KindToolResult, "error: "+err.Error()))
		l.remember(ctx, prompt, "error: "+err.Error())
		return
	}
	l.remember(ctx, prompt, out)
	yield(newResult(KindToolResult, out))
}

// runModel drives the retry-with-fallback state machine: Primary on the
// first attempt, Fallback after the first retryable failure, Terminated on
// success, critical failure, or retry exhaustion.
func (l *AgentLoop) runModel(ctx context.Context, span Span, history []Msg, prompt string, yield func(StreamingResult) bool) {
	client := l.primary
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		if l.isAborted(ctx) {
			yield(newResult(KindError, ErrAborted.Error()))
			return
		}

		text, err := l.invoke(ctx, client, history, prompt)
		if err == nil {
			l.remember(ctx, prompt, text)
			yield(newResult(KindAssistant, text))
			return
		}
		if l.isAborted(ctx) {
			yield(newResult(KindError, ErrAborted.Error()))
			return
		}

		class := l.classifier.Classify(err)
		l.logger.Warn("model call failed",
			"client", client.Name(),
			"attempt", attempt,
			"class", class.String(),
			"error", err)
		if span != nil {
			span.Event("model_failure",
				StringAttr("class", class.String()),
				IntAttr("attempt", attempt))
		}

		if class == ClassCritical {
			yield(newResult(KindError, err.Error()))
			return
		}
		if attempt == l.maxRetries {
			yield(newResult(KindError, err.Error()))
			return
		}

		if attempt == 1 && l.fallback != nil {
			client = l.fallback
			if !yield(newResult(KindModelFallback, "switching to fallback model: "+client.Name())) {
				return
			}
		}

		delay := l.retryDelay(class, attempt)
		var he *ErrHTTP
		if errors.As(err, &he) && he.RetryAfter > delay {
			delay = min(he.RetryAfter, l.maxDelay)
		}
		if !l.sleep(ctx, delay) {
			yield(newResult(KindError, ErrAborted.Error()))
			return
		}
	}
}

// invoke calls the model with the specialization hint, if any, prepended as
// a system turn.
func (l *AgentLoop) invoke(ctx context.Context, client ModelClient, history []Msg, prompt string) (string, error) {
	if l.special != nil {
		if hint := l.special.Describe(prompt); hint != "" {
			history = append([]Msg{SystemMsg(hint)}, history...)
		}
	}

	if l.tracer != nil {
		var span Span
		ctx, span = l.tracer.Start(ctx, "steer.model_call",
			StringAttr("client", client.Name()))
		defer span.End()
	}
	return client.Invoke(ctx, history, prompt)
}

// remember appends the completed directive to memory. Skipped entirely on
// abort paths; a persistence failure inside Memory is logged, not fatal.
func (l *AgentLoop) remember(ctx context.Context, prompt, output string) {
	if l.mem == nil {
		return
	}
	l.mem.Append(ctx, MemoryItem{
		Input:  prompt,
		Output: output,
		TS:     NowTS(),
		Tokens: EstimateTokens(prompt) + EstimateTokens(output),
	})
}

// triggered reports whether the prompt contains a tool trigger token.
func (l *AgentLoop) triggered(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, t := range l.triggers {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// retryDelay computes the backoff before the next attempt: exponential from
// the class base, floored at the rate-limit minimum for RATE_LIMIT, scaled
// by jitter, capped at the configured maximum.
func (l *AgentLoop) retryDelay(class FailureClass, attempt int) time.Duration {
	var base time.Duration
	switch class {
	case ClassRateLimit:
		base = l.transientDelay << (attempt - 1)
		if base < l.rateLimitFloor {
			base = l.rateLimitFloor
		}
	case ClassTransient:
		base = l.transientDelay << (attempt - 1)
	default:
		base = l.unknownDelay << (attempt - 1)
	}
	d := time.Duration(float64(base) * l.jitter())
	if d > l.maxDelay {
		d = l.maxDelay
	}
	return d
}

// sleep waits for d, returning false if abort or ctx cancellation interrupts
// the wait.
func (l *AgentLoop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.abortCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// watchAbort derives a context cancelled when Abort is observed.
func (l *AgentLoop) watchAbort(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-l.abortCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// isAborted reports whether Abort has been called or ctx is done.
func (l *AgentLoop) isAborted(ctx context.Context) bool {
	select {
	case <-l.abortCh:
		return true
	default:
	}
	return ctx.Err() != nil
}
