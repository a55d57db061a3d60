package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(args[0])
		},
	})
}

func runRm(rawKey string) error {
	key, err := parseKey(rawKey)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tree.Remove(ctx, key); err != nil {
		return fmt.Errorf("rm %s: %w", rawKey, err)
	}
	if err := s.tree.Checkpoint(ctx); err != nil {
		return fmt.Errorf("rm %s: checkpoint: %w", rawKey, err)
	}
	printInfo("removed %s\n", rawKey)
	return nil
}
