package tiller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Steering defaults.
const (
	defaultDriverTimeout = 30 * time.Second
	defaultPollInterval  = 25 * time.Millisecond
	defaultDrainTimeout  = 2 * time.Second
)

// SystemStatus is the SteeringSystem health snapshot.
type SystemStatus struct {
	Closed       bool `json:"closed"`
	Processing   bool `json:"processing"`
	DriverActive bool `json:"driver_active"`
}

// SteeringSystem owns the whole pipeline: raw chunks in, parsed messages to
// commands, commands through the processor and agent loop, streaming results
// out. External producers may enqueue chunks or commands at any time — the
// pipeline stages run concurrently and an in-flight directive observes
// cancellation at its suspension points.
//
// A system is single-use: Start once, then Abort/Close once; steer further
// work through a fresh system.
type SteeringSystem struct {
	in     *Pipe[string]
	lines  *LineStream
	parser *MessageParser
	queue  *CmdQueue
	mem    *Memory
	loop   *AgentLoop
	proc   *StreamingProcessor
	logger *slog.Logger
	tracer Tracer

	driverTimeout time.Duration
	pollInterval  time.Duration
	drainTimeout  time.Duration

	ctx          context.Context
	cancel       context.CancelFunc
	parserCtx    context.Context
	parserCancel context.CancelFunc
	wg           sync.WaitGroup
	started      atomic.Bool
	closed       atomic.Bool
	driverActive atomic.Bool
}

// systemConfig collects construction-time knobs before wiring.
type systemConfig struct {
	fallback     ModelClient
	tools        ToolEngine
	system       SystemHandler
	special      Specialization
	gate         *SecurityGate
	compactor    *Compactor
	classifier   *Classifier
	store        HistoryStore
	logger       *slog.Logger
	tracer       Tracer
	maxRetries   int
	delays       [4]time.Duration
	jitter       [2]float64
	triggers     []string
	driverTO     time.Duration
	pollInterval time.Duration
}

// SystemOption configures a SteeringSystem.
type SystemOption func(*systemConfig)

// WithFallbackModel sets the secondary model client.
func WithFallbackModel(m ModelClient) SystemOption {
	return func(c *systemConfig) { c.fallback = m }
}

// WithToolEngine sets the tool engine for trigger prompts and TOOL commands.
func WithToolEngine(t ToolEngine) SystemOption {
	return func(c *systemConfig) { c.tools = t }
}

// WithSystemHandler replaces the default probe handler.
func WithSystemHandler(h SystemHandler) SystemOption {
	return func(c *systemConfig) { c.system = h }
}

// WithSpecialization sets the per-prompt hint provider.
func WithSpecialization(s Specialization) SystemOption {
	return func(c *systemConfig) { c.special = s }
}

// WithSecurityGate replaces the default gate. Pass nil to disable gating.
func WithSecurityGate(g *SecurityGate) SystemOption {
	return func(c *systemConfig) { c.gate = g }
}

// WithCompactor replaces the default history compactor.
func WithCompactor(cp *Compactor) SystemOption {
	return func(c *systemConfig) { c.compactor = cp }
}

// WithClassifier replaces the failure classifier.
func WithClassifier(cl *Classifier) SystemOption {
	return func(c *systemConfig) { c.classifier = cl }
}

// WithHistoryStore enables memory write-through to a persistent store.
func WithHistoryStore(st HistoryStore) SystemOption {
	return func(c *systemConfig) { c.store = st }
}

// WithLogger sets the structured logger shared by all owned components.
func WithLogger(l *slog.Logger) SystemOption {
	return func(c *systemConfig) { c.logger = l }
}

// WithTracer sets the tracer shared by all owned components.
func WithTracer(t Tracer) SystemOption {
	return func(c *systemConfig) { c.tracer = t }
}

// WithMaxRetries sets the model attempt budget.
func WithMaxRetries(n int) SystemOption {
	return func(c *systemConfig) { c.maxRetries = n }
}

// WithRetryDelays sets transient base, unknown base, rate-limit floor, and
// delay cap.
func WithRetryDelays(transient, unknown, rateFloor, max time.Duration) SystemOption {
	return func(c *systemConfig) { c.delays = [4]time.Duration{transient, unknown, rateFloor, max} }
}

// WithJitterRange sets the backoff jitter bounds.
func WithJitterRange(low, high float64) SystemOption {
	return func(c *systemConfig) { c.jitter = [2]float64{low, high} }
}

// WithTriggerTokens replaces the tool trigger token set.
func WithTriggerTokens(tokens ...string) SystemOption {
	return func(c *systemConfig) { c.triggers = tokens }
}

// WithDriverTimeout bounds each command execution in the driver.
func WithDriverTimeout(d time.Duration) SystemOption {
	return func(c *systemConfig) {
		if d > 0 {
			c.driverTO = d
		}
	}
}

// WithPollInterval sets the driver's queue poll cadence.
func WithPollInterval(d time.Duration) SystemOption {
	return func(c *systemConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewSteeringSystem wires a complete system around the primary model client.
func NewSteeringSystem(primary ModelClient, opts ...SystemOption) *SteeringSystem {
	cfg := systemConfig{
		gate:         NewSecurityGate(),
		compactor:    NewCompactor(),
		logger:       nopLogger,
		driverTO:     defaultDriverTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	memOpts := []MemoryOption{MemoryLogger(cfg.logger)}
	if cfg.store != nil {
		memOpts = append(memOpts, MemoryWriteThrough(cfg.store))
	}
	mem := NewMemory(memOpts...)

	loopOpts := []LoopOption{
		LoopLogger(cfg.logger),
		LoopSecurityGate(cfg.gate),
		LoopCompactor(cfg.compactor),
	}
	if cfg.fallback != nil {
		loopOpts = append(loopOpts, LoopFallback(cfg.fallback))
	}
	if cfg.tools != nil {
		loopOpts = append(loopOpts, LoopToolEngine(cfg.tools))
	}
	if cfg.special != nil {
		loopOpts = append(loopOpts, LoopSpecialization(cfg.special))
	}
	if cfg.classifier != nil {
		loopOpts = append(loopOpts, LoopClassifier(cfg.classifier))
	}
	if cfg.tracer != nil {
		loopOpts = append(loopOpts, LoopTracer(cfg.tracer))
	}
	if cfg.maxRetries > 0 {
		loopOpts = append(loopOpts, LoopMaxRetries(cfg.maxRetries))
	}
	if cfg.delays != ([4]time.Duration{}) {
		loopOpts = append(loopOpts, LoopRetryDelays(cfg.delays[0], cfg.delays[1], cfg.delays[2], cfg.delays[3]))
	}
	if cfg.triggers != nil {
		loopOpts = append(loopOpts, LoopTriggerTokens(cfg.triggers...))
	}
	if cfg.jitter != ([2]float64{}) {
		loopOpts = append(loopOpts, LoopJitterRange(cfg.jitter[0], cfg.jitter[1]))
	}
	loop := NewAgentLoop(primary, mem, loopOpts...)

	system := cfg.system
	if system == nil {
		system = NewSystemProbe(mem, func() string {
			if loop.Running() {
				return "processing"
			}
			return "idle"
		})
	}

	in := NewPipe[string](PipeLogger[string](cfg.logger))
	lines := NewLineStream(in)
	parser := NewMessageParser(lines, ParserLogger(cfg.logger))
	queue := NewCmdQueue()
	proc := NewStreamingProcessor(queue, loop, mem, cfg.tools, system, ProcLogger(cfg.logger))

	ctx, cancel := context.WithCancel(context.Background())
	parserCtx, parserCancel := context.WithCancel(ctx)
	return &SteeringSystem{
		in:            in,
		lines:         lines,
		parser:        parser,
		queue:         queue,
		mem:           mem,
		loop:          loop,
		proc:          proc,
		logger:        cfg.logger,
		tracer:        cfg.tracer,
		driverTimeout: cfg.driverTO,
		pollInterval:  cfg.pollInterval,
		drainTimeout:  defaultDrainTimeout,
		ctx:           ctx,
		cancel:        cancel,
		parserCtx:     parserCtx,
		parserCancel:  parserCancel,
	}
}

// Memory returns the session memory store.
func (s *SteeringSystem) Memory() *Memory { return s.mem }

// Output returns the result pipe for reading. The system retains ownership.
func (s *SteeringSystem) Output() *Pipe[StreamingResult] { return s.proc.Out() }

// Start spawns the parser, consumer, and driver workers. Allowed once.
func (s *SteeringSystem) Start() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("steering system already started")
	}
	s.logger.Info("steering system starting")

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.parser.Run(s.parserCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.consume()
	}()
	go func() {
		defer s.wg.Done()
		s.drive()
	}()
	return nil
}

// SendInput enqueues a raw chunk on the input pipe. Chunks may contain any
// number of complete or partial lines. Dropped after Close.
func (s *SteeringSystem) SendInput(chunk string) {
	if s.closed.Load() {
		return
	}
	s.in.Enqueue(chunk)
}

// SendCommand bypasses the parser and enqueues directly. Dropped after
// Close.
func (s *SteeringSystem) SendCommand(c Command) {
	if s.closed.Load() {
		return
	}
	if c.TS == 0 {
		c.TS = NowTS()
	}
	s.queue.Enqueue(c)
}

// Status returns the health snapshot.
func (s *SteeringSystem) Status() SystemStatus {
	return SystemStatus{
		Closed:       s.closed.Load(),
		Processing:   s.proc.Processing(),
		DriverActive: s.driverActive.Load(),
	}
}

// Abort terminates the system: the in-flight agent loop is cancelled, the
// processor stops intake, the parser is closed, and the input pipe
// completes, in that order. Workers exit within the bounded drain window.
// One-shot; later calls are no-ops.
func (s *SteeringSystem) Abort(reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("steering system aborting", "reason", reason)

	s.proc.Abort()
	s.proc.Complete()
	s.parserCancel()
	s.in.Complete()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("worker drain exceeded bound", "timeout", s.drainTimeout)
	}
	s.proc.Out().Complete()
	s.logger.Info("steering system closed")
}

// Close is Abort("close"). Idempotent.
func (s *SteeringSystem) Close() {
	s.Abort("close")
}

// consume maps parsed messages to PROMPT commands.
func (s *SteeringSystem) consume() {
	for {
		msg, err := s.parser.Out().Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			// Upstream pipe error: forward to consumers, keep consuming.
			s.proc.Out().Fail(err)
			continue
		}
		if msg.Done {
			return
		}
		prompt := ExtractPrompt(msg.Value.Content)
		if prompt == "" {
			continue
		}
		s.queue.Enqueue(Command{Mode: CmdPrompt, Value: prompt, TS: msg.Value.TS})
	}
}

// drive periodically snapshots the queue and executes each command through
// the processor with the per-command timeout, removing commands it has
// processed. The indirection exists so Abort cancels the driver and the
// in-flight loop through the same context.
func (s *SteeringSystem) drive() {
	s.driverActive.Store(true)
	defer s.driverActive.Store(false)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		for _, cmd := range s.queue.Snapshot() {
			if s.ctx.Err() != nil {
				return
			}
			cctx, cancel := context.WithTimeout(s.ctx, s.driverTimeout)
			s.proc.Dispatch(cctx, cmd)
			cancel()
			s.queue.RemoveAll([]Command{cmd})
		}
	}
}
