package tiller

import (
	"context"
	"iter"
	"log/slog"
	"sync"
)

// Pipe is a concurrent FIFO queue specialised for pipeline stages: one
// producer enqueues values and eventually completes or fails the pipe, any
// number of readers drain it. Enqueue never blocks; a Read against an empty
// running pipe parks until a value arrives or the pipe terminates.
//
// Error semantics follow the one-shot contract: Fail stores an error that the
// next Read returns, after which the latch clears and subsequent reads see
// ordinary value/completion semantics. Callers must treat pipe errors as
// transient signals and read again. PipeStrictErrors switches to a permanent
// latch: the pipe transitions to PipeErrored and every later read fails.
type Pipe[T any] struct {
	mu      sync.Mutex
	buf     []T
	state   PipeState
	err     error
	strict  bool
	waiters []chan readOutcome[T]
	logger  *slog.Logger
}

// readOutcome is what a parked reader is handed when woken.
type readOutcome[T any] struct {
	msg QueueMessage[T]
	err error
}

// PipeOption configures a Pipe.
type PipeOption[T any] func(*Pipe[T])

// PipeStrictErrors makes Fail a one-way transition to PipeErrored: the error
// is delivered to every subsequent read and enqueues are dropped.
func PipeStrictErrors[T any]() PipeOption[T] {
	return func(p *Pipe[T]) { p.strict = true }
}

// PipeLogger sets the structured logger for terminal-state transitions.
func PipeLogger[T any](l *slog.Logger) PipeOption[T] {
	return func(p *Pipe[T]) { p.logger = l }
}

// NewPipe creates a running, unbounded pipe.
func NewPipe[T any](opts ...PipeOption[T]) *Pipe[T] {
	p := &Pipe[T]{state: PipeRunning, logger: nopLogger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue appends v unless the pipe is terminal, in which case v is silently
// dropped. If a reader is parked, v is handed to it directly.
func (p *Pipe[T]) Enqueue(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PipeRunning {
		return
	}
	if w := p.takeWaiter(); w != nil {
		w <- readOutcome[T]{msg: QueueMessage[T]{Value: v}}
		return
	}
	p.buf = append(p.buf, v)
}

// Read returns the next queued value as {Done: false, Value: v}, or
// {Done: true} once the pipe has completed and drained. If an error is
// latched, Read returns it (clearing the latch unless the pipe is strict).
// With the buffer empty on a running pipe, Read parks until Enqueue,
// Complete, Fail, or ctx cancellation.
func (p *Pipe[T]) Read(ctx context.Context) (QueueMessage[T], error) {
	p.mu.Lock()

	if out, ok := p.tryOutcome(); ok {
		p.mu.Unlock()
		return out.msg, out.err
	}

	// Park. Waiters are woken in FIFO order.
	w := make(chan readOutcome[T], 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case out := <-w:
		return out.msg, out.err
	case <-ctx.Done():
		p.mu.Lock()
		for i, cand := range p.waiters {
			if cand == w {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return QueueMessage[T]{}, ctx.Err()
			}
		}
		p.mu.Unlock()
		// Already woken concurrently — the outcome must not be lost.
		out := <-w
		return out.msg, out.err
	}
}

// TryRead is the non-blocking form of Read. The third return is false when
// the pipe is empty and running.
func (p *Pipe[T]) TryRead() (QueueMessage[T], error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if out, ok := p.tryOutcome(); ok {
		return out.msg, out.err, true
	}
	return QueueMessage[T]{}, nil, false
}

// tryOutcome returns the immediately available outcome, if any.
// Caller holds mu.
func (p *Pipe[T]) tryOutcome() (readOutcome[T], bool) {
	if p.err != nil {
		err := p.err
		if !p.strict {
			p.err = nil
		}
		return readOutcome[T]{err: err}, true
	}
	if len(p.buf) > 0 {
		v := p.buf[0]
		p.buf = p.buf[1:]
		return readOutcome[T]{msg: QueueMessage[T]{Value: v}}, true
	}
	if p.state == PipeCompleted {
		return readOutcome[T]{msg: QueueMessage[T]{Done: true}}, true
	}
	return readOutcome[T]{}, false
}

// Complete transitions the pipe to completed. Queued values remain readable;
// once drained, reads return {Done: true}. Parked readers are released.
// Subsequent Enqueues are dropped. Idempotent.
func (p *Pipe[T]) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PipeRunning {
		return
	}
	p.state = PipeCompleted
	p.logger.Debug("pipe completed", "queued", len(p.buf))
	for _, w := range p.waiters {
		w <- readOutcome[T]{msg: QueueMessage[T]{Done: true}}
	}
	p.waiters = nil
}

// Fail latches err for delivery to the next read (default mode) or every
// subsequent read (strict mode, which also transitions the pipe to
// PipeErrored). In default mode the pipe remains usable after the error is
// observed. A nil err or a terminal pipe is a no-op.
func (p *Pipe[T]) Fail(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PipeRunning {
		return
	}
	if p.strict {
		p.state = PipeErrored
		p.err = err
		p.logger.Debug("pipe errored", "error", err)
		for _, w := range p.waiters {
			w <- readOutcome[T]{err: err}
		}
		p.waiters = nil
		return
	}

	// One-shot latch: hand the error to the oldest parked reader, or store
	// it for the next read.
	if w := p.takeWaiter(); w != nil {
		w <- readOutcome[T]{err: err}
		return
	}
	p.err = err
}

// FailTerminal forces the permanent error transition regardless of mode:
// the pipe moves to PipeErrored, every subsequent read fails with err, and
// enqueues are dropped. Used when a stage dies and the pipe must not keep
// accepting work. No-op on a terminal pipe or nil err.
func (p *Pipe[T]) FailTerminal(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PipeRunning {
		return
	}
	p.state = PipeErrored
	p.err = err
	p.strict = true
	p.logger.Debug("pipe errored", "error", err)
	for _, w := range p.waiters {
		w <- readOutcome[T]{err: err}
	}
	p.waiters = nil
}

// State returns the pipe's lifecycle state.
func (p *Pipe[T]) State() PipeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Len returns the number of queued, unread values.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Iter yields successive values until {Done: true} is observed or ctx is
// cancelled. Latched errors are skipped (the latch clears on observation),
// matching the transient-signal contract; strict-mode errors terminate the
// sequence.
func (p *Pipe[T]) Iter(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			msg, err := p.Read(ctx)
			if err != nil {
				if ctx.Err() != nil || p.strict {
					return
				}
				continue
			}
			if msg.Done {
				return
			}
			if !yield(msg.Value) {
				return
			}
		}
	}
}

// takeWaiter pops the oldest parked reader. Caller holds mu.
func (p *Pipe[T]) takeWaiter() chan readOutcome[T] {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}
