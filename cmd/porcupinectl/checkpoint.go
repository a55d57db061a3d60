package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "checkpoint",
		Short: "Flush every dirty nodule and advance the root pointer",
		Long: `checkpoint forces a write-back even under
CheckpointManual, the default policy: every command already
checkpoints after the mutation it performs, so this is mainly useful
after a sequence of commands run against a config with
CheckpointManual (spec.md §4.6) where writes were deliberately batched
some other way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint()
		},
	})
}

func runCheckpoint() error {
	ctx, cancel := rootContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tree.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	printInfo("checkpointed\n")
	return nil
}
