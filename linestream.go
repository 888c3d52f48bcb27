package tiller

import (
	"context"
	"io"
	"strings"
)

// LineStream splits a chunked text stream into logical lines. It consumes an
// input Pipe of chunks, maintains a rolling buffer, and emits one line per
// "\n". When the producer completes, the trimmed buffer tail is emitted as a
// final line. The stream is lazy and not restartable.
//
// A producer-set pipe error is surfaced by Next exactly once, after which the
// stream continues (the pipe's one-shot latch has cleared).
type LineStream struct {
	in      *Pipe[string]
	buf     string
	pending []string
	done    bool
}

// NewLineStream wraps the chunk pipe.
func NewLineStream(in *Pipe[string]) *LineStream {
	return &LineStream{in: in}
}

// Next returns the next logical line. It returns io.EOF once the producer
// has completed and the tail is drained, and surfaces a producer error once
// before continuing.
func (s *LineStream) Next(ctx context.Context) (string, error) {
	for {
		if len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			return line, nil
		}
		if s.done {
			return "", io.EOF
		}

		msg, err := s.in.Read(ctx)
		if err != nil {
			return "", err
		}
		if msg.Done {
			s.done = true
			if tail := strings.TrimSpace(s.buf); tail != "" {
				s.buf = ""
				return tail, nil
			}
			s.buf = ""
			return "", io.EOF
		}

		s.buf += msg.Value
		for {
			i := strings.IndexByte(s.buf, '\n')
			if i < 0 {
				break
			}
			s.pending = append(s.pending, s.buf[:i])
			s.buf = s.buf[i+1:]
		}
	}
}
