// Command porcupinectl is a small cobra CLI over a disk-backed
// Porcupine tree, grounded on cmd/hivectl's root/global-flag layout: a
// persistent --store flag naming the backing file, --verbose/--json
// toggling internal/logging, and one subcommand per Porcupine operation.
// It exists to exercise the library end-to-end, not as a user product
// (spec.md §1's protocol/RPC-surface Non-goal applies here too).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	storePath string
	verbose   bool
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "porcupinectl",
	Short: "Inspect and manipulate a Porcupine block-index tree",
	Long: `porcupinectl opens a content-addressed, cryptographically sealed
Porcupine index backed by a single file and lets you add, fetch, remove,
and audit entries in it.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "porcupine.db", "path to the backing store file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output machine-readable JSON")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loggingOptions() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func printJSON(v any) error {
	return jsonEncode(os.Stdout, v)
}

func main() {
	execute()
}
