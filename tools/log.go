package tools

import (
	"io"
	"log/slog"
)

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
