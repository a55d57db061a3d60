package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// rootContext returns a context canceled on SIGINT/SIGTERM, so a long
// checkpoint or traversal can observe ctx.Err() and unwind cleanly
// instead of leaving a half-written store (spec.md §5 cancellation).
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printInfo(format string, args ...any) {
	if !jsonOut {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}
