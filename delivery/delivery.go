// Package delivery holds the per-channel output adapters: renderers that
// format assistant output for the channel it is delivered on. The core emits
// plain markdown-ish text; a channel picks the renderer it needs.
package delivery

import "strings"

// Renderer formats one result body for a delivery channel.
type Renderer interface {
	Render(content string) string
}

// Text is the console renderer: trimmed pass-through.
type Text struct{}

// Render implements Renderer.
func (Text) Render(content string) string {
	return strings.TrimSpace(content)
}
