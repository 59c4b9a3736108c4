// Package logs builds the process logger: a terminal-friendly handler on
// stderr plus an optional JSON log file, fanned out through slog-multi.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
)

type Options struct {
	Level string
	// Writer receives human-oriented output; defaults to os.Stderr.
	Writer io.Writer
	// JSON forces JSON output on Writer even when it is a terminal.
	JSON bool
	// File, when set, additionally receives JSON records.
	File io.Writer
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level: %s", raw)
	}
}

func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if opts.JSON || !isTerminal(writer) {
		handlers = append(handlers, slog.NewJSONHandler(writer, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(writer, handlerOpts))
	}
	if opts.File != nil {
		handlers = append(handlers, slog.NewJSONHandler(opts.File, handlerOpts))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Discard is used by packages that were not handed a logger.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
