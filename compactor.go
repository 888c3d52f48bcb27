package tiller

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// Compaction defaults.
const (
	defaultMaxTokens      = 16384
	defaultCompactRatio   = 0.92
	defaultCompactMsgCap  = 15
	defaultKeepRecent     = 3
	minCompactableHistory = 6
)

// defaultLexicon is the tech vocabulary recognised by the
// key-technical-concepts segment. Configurable via CompactorLexicon.
var defaultLexicon = []string{
	"api", "cache", "channel", "concurrency", "database", "docker", "goroutine",
	"grpc", "http", "json", "kubernetes", "queue", "sql", "tcp", "thread",
	"websocket",
}

// Compactor folds a long dialogue history into an eight-segment structured
// summary plus the most recent turns, keeping the history within the model's
// context budget. Compaction triggers when the token estimate exceeds the
// configured ratio of the budget or the turn count exceeds the cap.
type Compactor struct {
	maxTokens  int
	ratio      float64
	msgCap     int
	keepRecent int
	lexicon    []string
	logger     *slog.Logger
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// CompactorBudget sets the token budget and trigger ratio.
func CompactorBudget(maxTokens int, ratio float64) CompactorOption {
	return func(c *Compactor) {
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
		if ratio > 0 {
			c.ratio = ratio
		}
	}
}

// CompactorMsgCap sets the turn-count trigger.
func CompactorMsgCap(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.msgCap = n
		}
	}
}

// CompactorLexicon replaces the tech vocabulary for the
// key-technical-concepts segment.
func CompactorLexicon(words []string) CompactorOption {
	return func(c *Compactor) { c.lexicon = words }
}

// CompactorLogger sets the structured logger.
func CompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor creates a compactor with the default budget (16384 tokens,
// 0.92 ratio, 15-turn cap).
func NewCompactor(opts ...CompactorOption) *Compactor {
	c := &Compactor{
		maxTokens:  defaultMaxTokens,
		ratio:      defaultCompactRatio,
		msgCap:     defaultCompactMsgCap,
		keepRecent: defaultKeepRecent,
		lexicon:    defaultLexicon,
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateTokens approximates the token count of s. Chinese-dominant text
// estimates at 0.6 tokens per rune; everything else at one token per word
// plus a quarter token per rune.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := []rune(s)
	var han int
	for _, r := range runes {
		if unicode.Is(unicode.Han, r) {
			han++
		}
	}
	if han*2 > len(runes) {
		return int(float64(len(runes)) * 0.6)
	}
	return len(strings.Fields(s)) + int(0.25*float64(len(runes)))
}

// TotalTokens sums the estimate over all turns.
func TotalTokens(msgs []Msg) int {
	var n int
	for _, m := range msgs {
		n += EstimateTokens(m.Content)
	}
	return n
}

// ShouldCompact reports whether msgs is over budget: token ratio exceeded or
// turn count over the cap.
func (c *Compactor) ShouldCompact(msgs []Msg) bool {
	if len(msgs) > c.msgCap {
		return true
	}
	return float64(TotalTokens(msgs))/float64(c.maxTokens) > c.ratio
}

// Compact folds msgs into [systemMsgIfAny, summary, last K] when over
// budget. K is min(3, len(msgs)). The drained prefix — everything except the
// optional leading system turn, any prior summary, and the last K turns —
// feeds the eight-segment extraction. Histories under six turns pass through
// unchanged, as do already-compacted histories with no new turns, making
// Compact idempotent.
func (c *Compactor) Compact(msgs []Msg) ([]Msg, CompressedMemory, bool) {
	if len(msgs) < minCompactableHistory || !c.ShouldCompact(msgs) {
		return msgs, CompressedMemory{}, false
	}

	var system *Msg
	body := msgs
	if len(body) > 0 && body[0].Role == "system" {
		system = &body[0]
		body = body[1:]
	}

	keep := c.keepRecent
	if keep > len(msgs) {
		keep = len(msgs)
	}
	if len(body) <= keep {
		return msgs, CompressedMemory{}, false
	}
	prefix := body[:len(body)-keep]
	recent := body[len(body)-keep:]

	// Drop prior summaries from the prefix so repeated passes converge.
	drained := make([]Msg, 0, len(prefix))
	for _, m := range prefix {
		if strings.HasPrefix(m.Content, compactedMarker) {
			continue
		}
		drained = append(drained, m)
	}
	if len(drained) == 0 {
		return msgs, CompressedMemory{}, false
	}

	summary := c.extract(drained)

	out := make([]Msg, 0, keep+2)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, UserMsg(summary.Render()))
	out = append(out, recent...)

	c.logger.Info("history compacted",
		"original_turns", len(msgs),
		"compacted_turns", len(out),
		"original_tokens", TotalTokens(msgs),
		"compacted_tokens", TotalTokens(out))

	return out, summary, true
}

// extract runs the eight segment rules over the drained prefix.
func (c *Compactor) extract(turns []Msg) CompressedMemory {
	userContains := func(words ...string) string {
		return collectTurns(turns, "user", words)
	}

	var assistant []string
	for _, m := range turns {
		if m.Role == "assistant" && m.Content != "" {
			assistant = append(assistant, m.Content)
		}
	}
	var currentWork string
	if n := len(assistant); n > 0 {
		start := n - 2
		if start < 0 {
			start = 0
		}
		currentWork = strings.Join(assistant[start:], "; ")
	}

	var allUser []string
	for _, m := range turns {
		if m.Role == "user" && m.Content != "" {
			allUser = append(allUser, m.Content)
		}
	}

	return CompressedMemory{
		PrimaryRequest:    userContains("implement", "create", "build", "add"),
		TechnicalConcepts: collectTurns(turns, "user", c.lexicon),
		FilesAndCode:      userContains("file", "code", "function", "class", "method"),
		ErrorsAndFixes:    userContains("error", "exception", "fix", "resolve"),
		ProblemSolving:    collectTurns(turns, "assistant", []string{"resolved", "completed", "success"}),
		AllUserMessages:   strings.Join(allUser, "; "),
		PendingTasks:      userContains("todo", "task", "need"),
		CurrentWork:       currentWork,
		TS:                NowTS(),
	}
}

// collectTurns joins the turns of the given role whose content mentions any
// of the words, case-insensitively.
func collectTurns(turns []Msg, role string, words []string) string {
	var hits []string
	for _, m := range turns {
		if m.Role != role {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, w := range words {
			if strings.Contains(lower, strings.ToLower(w)) {
				hits = append(hits, m.Content)
				break
			}
		}
	}
	return strings.Join(hits, "; ")
}

// compactionNote renders the counts line emitted as a compaction result.
func compactionNote(original, compacted int) string {
	return fmt.Sprintf("compacted %d turns to %d", original, compacted)
}
