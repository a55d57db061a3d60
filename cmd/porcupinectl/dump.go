package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dumpLimit int

func init() {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List every (key, value) pair in key order",
		Long: `dump pages through the quill right-sibling chain via
Porcupine.Consult (spec.md §6 consult(offset, count)), printing every
entry it finds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump()
		},
	}
	cmd.Flags().IntVar(&dumpLimit, "page-size", 256, "entries fetched per Consult call")
	rootCmd.AddCommand(cmd)
}

func runDump() error {
	ctx, cancel := rootContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	type row struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var rows []row

	offset := 0
	for {
		entries, err := s.tree.Consult(ctx, offset, dumpLimit)
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			rows = append(rows, row{Key: e.Key.String(), Value: string(e.Value.Bytes())})
		}
		offset += len(entries)
		if len(entries) < dumpLimit {
			break
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	for _, r := range rows {
		printInfo("%s\t%s\n", r.Key, r.Value)
	}
	return nil
}
