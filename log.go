package tiller

import (
	"io"
	"log/slog"
)

// nopLogger discards all records. Components fall back to it when no logger
// is configured so call sites never nil-check.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
