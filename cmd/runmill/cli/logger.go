// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger builds the logger for CLI commands. A terminal gets
// human-readable text output; a pipe or redirect (CI, scripts) gets
// JSON lines. RUNMILL_DEBUG switches the level to debug.
func NewCommandLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("RUNMILL_DEBUG") != "" {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
