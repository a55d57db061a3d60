package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the tree's structural invariants",
		Long: `check walks the whole tree and verifies the structural
invariants of spec.md §3: parent/child consistency, inlet-key-equals-
child-mayor, footprint within extent, and height consistency. It exits
non-zero and prints the first violation found, if any.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	})
}

func runCheck() error {
	ctx, cancel := rootContext()
	defer cancel()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.tree.Check(ctx); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	printInfo("ok: height %d\n", s.tree.Height())
	return nil
}
