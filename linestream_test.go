package tiller

import (
	"context"
	"errors"
	"io"
	"testing"
)

// drainLines reads every line until EOF.
func drainLines(t *testing.T, ls *LineStream) []string {
	t.Helper()
	var lines []string
	for {
		line, err := ls.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return lines
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		lines = append(lines, line)
	}
}

func TestLineStreamSplitsChunks(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single line", []string{"hello\n"}, []string{"hello"}},
		{"two lines one chunk", []string{"a\nb\n"}, []string{"a", "b"}},
		{"line split across chunks", []string{"hel", "lo\nwor", "ld\n"}, []string{"hello", "world"}},
		{"tail flushed on close", []string{"no newline"}, []string{"no newline"}},
		{"tail trimmed", []string{"a\n  tail  "}, []string{"a", "tail"}},
		{"empty tail dropped", []string{"a\n", "   "}, []string{"a"}},
		{"empty lines preserved for parser", []string{"a\n\nb\n"}, []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewPipe[string]()
			for _, c := range tt.chunks {
				in.Enqueue(c)
			}
			in.Complete()

			got := drainLines(t, NewLineStream(in))
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("line %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLineStreamSurfacesProducerErrorOnce(t *testing.T) {
	in := NewPipe[string]()
	boom := errors.New("boom")
	in.Enqueue("before\n")
	ls := NewLineStream(in)

	line, err := ls.Next(context.Background())
	if err != nil || line != "before" {
		t.Fatalf("got %q, %v", line, err)
	}

	in.Fail(boom)
	if _, err := ls.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	// The stream continues after the error.
	in.Enqueue("after\n")
	line, err = ls.Next(context.Background())
	if err != nil || line != "after" {
		t.Fatalf("after error: got %q, %v", line, err)
	}

	in.Complete()
	if _, err := ls.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want EOF", err)
	}
}
