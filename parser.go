package tiller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// MessageParser validates and decodes logical lines into UserMessage values.
//
// Per line: empty lines are skipped; well-formed JSON is held to the strict
// envelope shape {"type":"user","message":{"role":"user","content":...}} and
// dropped (with a counter) when it fails validation; anything that is not
// JSON at all becomes a plain-text user message. Output order matches input
// order.
type MessageParser struct {
	lines   *LineStream
	out     *Pipe[UserMessage]
	dropped atomic.Int64
	logger  *slog.Logger
}

// ParserOption configures a MessageParser.
type ParserOption func(*MessageParser)

// ParserLogger sets the structured logger for drop diagnostics.
func ParserLogger(l *slog.Logger) ParserOption {
	return func(p *MessageParser) { p.logger = l }
}

// NewMessageParser chains a parser onto a line stream. Parsed messages are
// published on Out.
func NewMessageParser(lines *LineStream, opts ...ParserOption) *MessageParser {
	p := &MessageParser{
		lines:  lines,
		out:    NewPipe[UserMessage](),
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Out returns the pipe of parsed messages. Completed when the upstream line
// stream ends.
func (p *MessageParser) Out() *Pipe[UserMessage] { return p.out }

// Dropped returns the count of well-formed JSON lines rejected by strict
// validation.
func (p *MessageParser) Dropped() int64 { return p.dropped.Load() }

// Run copies lines into parsed messages until the line stream ends or ctx is
// cancelled. Upstream pipe errors are forwarded onto the output pipe's error
// latch; parsing itself never errors the pipeline.
func (p *MessageParser) Run(ctx context.Context) {
	for {
		line, err := p.lines.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.out.Complete()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				p.out.Complete()
				return
			}
			p.out.Fail(err)
			continue
		}

		msg, ok := p.ParseLine(line)
		if ok {
			p.out.Enqueue(msg)
		}
	}
}

// envelope is the strict ingest shape.
type envelope struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// ParseLine decodes one logical line. The second return is false when the
// line produced no message (empty, or a strictly-invalid JSON envelope).
func (p *MessageParser) ParseLine(line string) (UserMessage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return UserMessage{}, false
	}

	if !json.Valid([]byte(trimmed)) {
		// Loose text input.
		return UserMessage{Type: "user", Role: "user", Content: trimmed, TS: NowTS()}, true
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		p.drop(trimmed, "envelope decode: "+err.Error())
		return UserMessage{}, false
	}
	if env.Type != "user" || env.Message.Role != "user" {
		p.drop(trimmed, "type/role mismatch")
		return UserMessage{}, false
	}
	content, ok := validateContent(env.Message.Content)
	if !ok {
		p.drop(trimmed, "unsupported content shape")
		return UserMessage{}, false
	}
	if content == "" {
		p.drop(trimmed, "empty content")
		return UserMessage{}, false
	}
	return UserMessage{Type: "user", Role: "user", Content: content, TS: NowTS()}, true
}

func (p *MessageParser) drop(line, reason string) {
	p.dropped.Add(1)
	p.logger.Warn("message dropped", "reason", reason, "line_len", len(line))
}

// validateContent checks the strict content shapes — string, object with a
// text field, or array of objects with text fields — and returns the raw
// content payload. Strings return their value; objects and arrays return
// their JSON text so the consumer's prompt extraction can apply.
func validateContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		var text string
		if t, ok := obj["text"]; ok && json.Unmarshal(t, &text) == nil {
			return string(raw), true
		}
		return "", false
	}

	var arr []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return "", false
		}
		for _, item := range arr {
			var text string
			if t, ok := item["text"]; !ok || json.Unmarshal(t, &text) != nil {
				return "", false
			}
		}
		return string(raw), true
	}

	return "", false
}
