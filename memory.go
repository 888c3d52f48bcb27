package tiller

import (
	"context"
	"log/slog"
	"sync"
)

// HistoryStats summarizes a persistent history store.
type HistoryStats struct {
	Items  int `json:"items"`
	Tokens int `json:"tokens"`
}

// HistoryStore persists completed directives outside the process. The core
// never requires one; when injected, Memory writes through on each append
// and a write failure is logged, not fatal. The history/sqlite and
// history/postgres packages provide implementations.
type HistoryStore interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, item MemoryItem) error
	Recent(ctx context.Context, limit int) ([]MemoryItem, error)
	Stats(ctx context.Context) (HistoryStats, error)
	Clear(ctx context.Context) error
}

// Memory is the per-session store: completed directives as MemoryItems plus
// the dialogue turns fed to the model. It is mutated only between directives
// by the single processor worker; the mutex exists so SYSTEM probes
// (memory-stats, clear-memory) observe a consistent view.
type Memory struct {
	mu     sync.Mutex
	items  []MemoryItem
	turns  []Msg
	store  HistoryStore
	logger *slog.Logger
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// MemoryWriteThrough persists every appended item to store. Failures are
// logged and do not fail the directive.
func MemoryWriteThrough(store HistoryStore) MemoryOption {
	return func(m *Memory) { m.store = store }
}

// MemoryLogger sets the structured logger.
func MemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates an empty session store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{logger: nopLogger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append records a completed directive: the item plus its user/assistant
// turn pair. Called as the last step of a successful directive; never called
// for aborted or errored ones.
func (m *Memory) Append(ctx context.Context, item MemoryItem) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.turns = append(m.turns, UserMsg(item.Input), AssistantMsg(item.Output))
	store := m.store
	m.mu.Unlock()

	if store != nil {
		if err := store.Append(ctx, item); err != nil {
			m.logger.Warn("history write-through failed", "error", err)
		}
	}
}

// Turns returns a copy of the dialogue history.
func (m *Memory) Turns() []Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Msg, len(m.turns))
	copy(out, m.turns)
	return out
}

// ReplaceTurns swaps the dialogue history, used after compaction.
func (m *Memory) ReplaceTurns(turns []Msg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = make([]Msg, len(turns))
	copy(m.turns, turns)
}

// SeedTurns appends raw dialogue turns without recording items. Useful for
// warm-starting a session from a persisted transcript.
func (m *Memory) SeedTurns(turns ...Msg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Items returns a copy of the recorded directives.
func (m *Memory) Items() []MemoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryItem, len(m.items))
	copy(out, m.items)
	return out
}

// Len returns the number of recorded directives.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats summarizes the store.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tokens int
	for _, it := range m.items {
		tokens += it.Tokens
	}
	return MemoryStats{Items: len(m.items), Turns: len(m.turns), Tokens: tokens}
}

// Clear drops all items and turns.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	m.turns = nil
}
