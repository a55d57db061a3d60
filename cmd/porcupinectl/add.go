package main

import (
	"fmt"
	"strconv"

	"github.com/n1e/porcupine/block"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "add <key> <value>",
		Short: "Insert a new key/value pair",
		Long: `add inserts value under key, failing if key is already present.

Example:
  porcupinectl add 42 "hello"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(args[0], args[1])
		},
	})
}

func runAdd(rawKey, rawValue string) error {
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

	if err := s.tree.Add(ctx, key, block.Bytes(rawValue)); err != nil {
		return fmt.Errorf("add %s: %w", rawKey, err)
	}
	if err := s.tree.Checkpoint(ctx); err != nil {
		return fmt.Errorf("add %s: checkpoint: %w", rawKey, err)
	}
	printInfo("added %s\n", rawKey)
	return nil
}

func parseKey(raw string) (block.Key, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return block.Key{}, fmt.Errorf("invalid key %q: must be an unsigned integer: %w", raw, err)
	}
	return block.KeyFromUint64(v), nil
}
