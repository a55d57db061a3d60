// Package logging provides the global structured logger used across the
// module, grounded directly on cmd/hiveexplorer/logger's
// discard-by-default slog wrapper: a package-level *slog.Logger that
// starts silent, and an Init that callers (porcupinectl's root command)
// opt into explicitly.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// L is the package-wide logger. It discards everything until Init is
// called, so importing this package never produces unwanted output.
var L = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures Init.
type Options struct {
	// Enabled turns logging on. If false, Init resets L to discard.
	Enabled bool
	// Level is the minimum level logged when Enabled. Defaults to Info.
	Level slog.Level
	// JSON selects slog.NewJSONHandler over the human-readable text
	// handler; porcupinectl sets this when --json is passed.
	JSON bool
}

// Init configures L. Call it once, early in main, before anything logs.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		L = slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
		return
	}
	L = slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

func Debug(msg string, args ...any) { L.Debug(msg, args...) }
func Info(msg string, args ...any)  { L.Info(msg, args...) }
func Warn(msg string, args ...any)  { L.Warn(msg, args...) }
func Error(msg string, args ...any) { L.Error(msg, args...) }
