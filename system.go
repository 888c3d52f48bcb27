package tiller

import (
	"fmt"
	"strings"
)

// SystemHandler answers SYSTEM commands. Recognised probes are memory-stats,
// clear-memory, and agent-status; anything else yields an informational
// "Unknown system command" string rather than an error.
type SystemHandler interface {
	Handle(value string) string
}

// SystemProbe is the default SystemHandler, wired to the session memory and
// an agent-status supplier.
type SystemProbe struct {
	mem    *Memory
	status func() string
}

// NewSystemProbe creates a probe handler. status may be nil, in which case
// agent-status reports "idle".
func NewSystemProbe(mem *Memory, status func() string) *SystemProbe {
	return &SystemProbe{mem: mem, status: status}
}

// Handle implements SystemHandler.
func (p *SystemProbe) Handle(value string) string {
	switch strings.TrimSpace(value) {
	case "memory-stats":
		s := p.mem.Stats()
		return fmt.Sprintf("memory: %d items, %d turns, ~%d tokens", s.Items, s.Turns, s.Tokens)
	case "clear-memory":
		p.mem.Clear()
		return "memory cleared"
	case "agent-status":
		if p.status != nil {
			return p.status()
		}
		return "idle"
	default:
		return "Unknown system command: " + value
	}
}
