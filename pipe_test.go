package tiller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPipeFIFO(t *testing.T) {
	p := NewPipe[int]()
	for i := 0; i < 10; i++ {
		p.Enqueue(i)
	}
	for i := 0; i < 10; i++ {
		msg, err := p.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg.Done || msg.Value != i {
			t.Fatalf("read %d: got %+v", i, msg)
		}
	}
}

func TestPipeCompleteDrainsBeforeDone(t *testing.T) {
	p := NewPipe[string]()
	p.Enqueue("a")
	p.Enqueue("b")
	p.Complete()

	// Every enqueued value is delivered before any done marker.
	for _, want := range []string{"a", "b"} {
		msg, err := p.Read(context.Background())
		if err != nil || msg.Done || msg.Value != want {
			t.Fatalf("got %+v, %v; want value %q", msg, err, want)
		}
	}
	msg, err := p.Read(context.Background())
	if err != nil || !msg.Done {
		t.Fatalf("got %+v, %v; want done", msg, err)
	}

	// Enqueue after completion is silently dropped.
	p.Enqueue("late")
	msg, _ = p.Read(context.Background())
	if !msg.Done {
		t.Fatalf("enqueue after complete was not dropped: %+v", msg)
	}
}

func TestPipeBlockedReadWokenByEnqueue(t *testing.T) {
	p := NewPipe[int]()
	got := make(chan int, 1)
	go func() {
		msg, err := p.Read(context.Background())
		if err == nil && !msg.Done {
			got <- msg.Value
		}
	}()

	time.Sleep(10 * time.Millisecond)
	p.Enqueue(42)

	select {
	case v := <-got:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read never woke")
	}
}

func TestPipeErrorDeliveredOnceThenCleared(t *testing.T) {
	p := NewPipe[int]()
	boom := errors.New("boom")
	p.Fail(boom)
	p.Enqueue(1)
	p.Complete()

	// Boundary behaviour: error once, then ordinary drain semantics.
	if _, err := p.Read(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("first read: got %v, want boom", err)
	}
	msg, err := p.Read(context.Background())
	if err != nil || msg.Value != 1 {
		t.Fatalf("second read: got %+v, %v; want 1", msg, err)
	}
	msg, err = p.Read(context.Background())
	if err != nil || !msg.Done {
		t.Fatalf("third read: got %+v, %v; want done", msg, err)
	}
}

func TestPipeErrorThenCompleteBoundary(t *testing.T) {
	p := NewPipe[int]()
	boom := errors.New("boom")
	p.Fail(boom)
	p.Complete()

	if _, err := p.Read(context.Background()); !errors.Is(err, boom) {
		t.Fatal("first read should see the error once")
	}
	msg, err := p.Read(context.Background())
	if err != nil || !msg.Done {
		t.Fatalf("second read: got %+v, %v; want done", msg, err)
	}
}

func TestPipeStrictErrorLatch(t *testing.T) {
	p := NewPipe[int](PipeStrictErrors[int]())
	boom := errors.New("boom")
	p.Fail(boom)

	if p.State() != PipeErrored {
		t.Fatalf("state = %v, want errored", p.State())
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Read(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("read %d: got %v, want boom", i, err)
		}
	}
	p.Enqueue(1)
	if p.Len() != 0 {
		t.Fatal("enqueue after strict error was not dropped")
	}
}

func TestPipeFailTerminalForcesErroredState(t *testing.T) {
	p := NewPipe[int]()
	boom := errors.New("boom")
	p.FailTerminal(boom)

	if p.State() != PipeErrored {
		t.Fatalf("state = %v, want errored", p.State())
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Read(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("read %d: got %v, want boom", i, err)
		}
	}
}

func TestPipeFailWakesBlockedReader(t *testing.T) {
	p := NewPipe[int]()
	boom := errors.New("boom")
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Fail(boom)

	select {
	case err := <-errCh:
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read never woke on error")
	}

	// Latch cleared: the pipe is usable again.
	p.Enqueue(7)
	msg, err := p.Read(context.Background())
	if err != nil || msg.Value != 7 {
		t.Fatalf("got %+v, %v; want 7", msg, err)
	}
}

func TestPipeReadContextCancel(t *testing.T) {
	p := NewPipe[int]()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Read(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled read never returned")
	}

	// The cancelled waiter must not swallow later values.
	p.Enqueue(9)
	msg, err := p.Read(context.Background())
	if err != nil || msg.Value != 9 {
		t.Fatalf("got %+v, %v; want 9", msg, err)
	}
}

func TestPipeConcurrentEnqueueSingleReaderSeesAll(t *testing.T) {
	p := NewPipe[int]()
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				p.Enqueue(w*perWriter + i)
			}
		}(w)
	}
	go func() {
		wg.Wait()
		p.Complete()
	}()

	seen := make(map[int]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		msg, err := p.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Done {
			break
		}
		if seen[msg.Value] {
			t.Fatalf("value %d delivered twice", msg.Value)
		}
		seen[msg.Value] = true
	}
	if len(seen) != writers*perWriter {
		t.Fatalf("delivered %d values, want %d", len(seen), writers*perWriter)
	}
}

func TestPipeIterTerminatesOnDone(t *testing.T) {
	p := NewPipe[string]()
	go func() {
		for i := 0; i < 5; i++ {
			p.Enqueue(fmt.Sprintf("v%d", i))
		}
		p.Complete()
	}()

	var got []string
	for v := range p.Iter(context.Background()) {
		got = append(got, v)
	}
	if len(got) != 5 || got[0] != "v0" || got[4] != "v4" {
		t.Fatalf("iterator yielded %v", got)
	}
}

func TestPipeTryRead(t *testing.T) {
	p := NewPipe[int]()
	if _, _, ok := p.TryRead(); ok {
		t.Fatal("TryRead on empty pipe reported a value")
	}
	p.Enqueue(3)
	msg, err, ok := p.TryRead()
	if !ok || err != nil || msg.Value != 3 {
		t.Fatalf("got %+v, %v, %v", msg, err, ok)
	}
}
