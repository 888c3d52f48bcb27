package tiller

import (
	"context"
	"testing"
	"time"
)

func TestCmdQueueFIFO(t *testing.T) {
	q := NewCmdQueue()
	for _, v := range []string{"a", "b", "c"} {
		q.Enqueue(Command{Mode: CmdPrompt, Value: v})
	}

	snap := q.Snapshot()
	if len(snap) != 3 || snap[0].Value != "a" || snap[2].Value != "c" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCmdQueueSnapshotIsStableCopy(t *testing.T) {
	q := NewCmdQueue()
	q.Enqueue(Command{Value: "a"})
	snap := q.Snapshot()

	q.Enqueue(Command{Value: "b"})
	if len(snap) != 1 {
		t.Fatal("snapshot mutated by later enqueue")
	}
	snap[0].Value = "mutated"
	if q.Snapshot()[0].Value != "a" {
		t.Fatal("snapshot aliased queue storage")
	}
}

func TestCmdQueueRemoveAllExactlyOnce(t *testing.T) {
	q := NewCmdQueue()
	q.Enqueue(Command{Value: "a"})
	q.Enqueue(Command{Value: "b"})

	snap := q.Snapshot()
	q.RemoveAll(snap[:1])
	if q.Len() != 1 || q.Snapshot()[0].Value != "b" {
		t.Fatalf("after removal: %+v", q.Snapshot())
	}

	// Removing the same batch again is a no-op.
	q.RemoveAll(snap[:1])
	if q.Len() != 1 {
		t.Fatal("double removal dropped an unrelated command")
	}

	// Commands that never went through Enqueue have no sequence and are
	// ignored.
	q.RemoveAll([]Command{{Value: "b"}})
	if q.Len() != 1 {
		t.Fatal("removal matched by value instead of sequence")
	}
}

func TestCmdQueueIsEmpty(t *testing.T) {
	q := NewCmdQueue()
	if !q.IsEmpty() {
		t.Fatal("new queue not empty")
	}
	q.Enqueue(Command{Value: "a"})
	if q.IsEmpty() {
		t.Fatal("queue with command reported empty")
	}
	q.RemoveAll(q.Snapshot())
	if !q.IsEmpty() {
		t.Fatal("drained queue not empty")
	}
}

func TestCmdQueueWaitWakesOnEnqueue(t *testing.T) {
	q := NewCmdQueue()
	done := make(chan error, 1)
	go func() {
		done <- q.Wait(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Command{Value: "x"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never woke")
	}
}

func TestCmdQueueWaitHonoursContext(t *testing.T) {
	q := NewCmdQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); err == nil {
		t.Fatal("Wait returned nil on empty queue with expired context")
	}
}
