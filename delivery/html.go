package delivery

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// HTML renders assistant markdown to HTML for web and chat channels.
type HTML struct {
	gm goldmark.Markdown
}

// NewHTML creates the renderer with GFM extensions (tables, strikethrough,
// autolinks).
func NewHTML() *HTML {
	return &HTML{
		gm: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

var _ Renderer = (*HTML)(nil)

// Render converts markdown to HTML. On a conversion failure the content is
// escaped and returned as-is so delivery never drops a result.
func (h *HTML) Render(content string) string {
	var buf bytes.Buffer
	if err := h.gm.Convert([]byte(content), &buf); err != nil {
		return escape(content)
	}
	return strings.TrimSpace(buf.String())
}

// escape escapes &, <, > for HTML.
func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
