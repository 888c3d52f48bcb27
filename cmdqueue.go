package tiller

import (
	"context"
	"sync"
)

// CmdQueue is the FIFO of pending Commands between the consumer and the
// driver. Snapshot hands the driver a stable copy; RemoveAll drops processed
// commands by the sequence number assigned at enqueue, so a snapshotted
// command is removable exactly once and removal after delivery is a no-op.
type CmdQueue struct {
	mu      sync.Mutex
	cmds    []Command
	nextSeq uint64
	wake    chan struct{}
}

// NewCmdQueue creates an empty queue.
func NewCmdQueue() *CmdQueue {
	return &CmdQueue{wake: make(chan struct{})}
}

// Enqueue appends c, stamping its sequence number, and wakes waiters.
func (q *CmdQueue) Enqueue(c Command) {
	q.mu.Lock()
	q.nextSeq++
	c.seq = q.nextSeq
	q.cmds = append(q.cmds, c)
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}

// Snapshot returns a stable copy of the pending commands in FIFO order.
func (q *CmdQueue) Snapshot() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Command, len(q.cmds))
	copy(out, q.cmds)
	return out
}

// RemoveAll drops every command in batch that is still pending, matched by
// the sequence number carried from Snapshot. Unknown or already-removed
// commands are ignored.
func (q *CmdQueue) RemoveAll(batch []Command) {
	if len(batch) == 0 {
		return
	}
	drop := make(map[uint64]bool, len(batch))
	for _, c := range batch {
		if c.seq != 0 {
			drop[c.seq] = true
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.cmds[:0]
	for _, c := range q.cmds {
		if !drop[c.seq] {
			kept = append(kept, c)
		}
	}
	q.cmds = kept
}

// IsEmpty reports whether no commands are pending.
func (q *CmdQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds) == 0
}

// Len returns the number of pending commands.
func (q *CmdQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Wait blocks until the queue is non-empty or ctx is done. It returns nil
// when at least one command is pending.
func (q *CmdQueue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.cmds) > 0 {
			q.mu.Unlock()
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
