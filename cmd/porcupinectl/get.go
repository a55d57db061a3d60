package main

import (
	"errors"
	"fmt"

	"github.com/n1e/porcupine/errs"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Fetch the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args[0])
		},
	})
}

func runGet(rawKey string) error {
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

	value, err := s.tree.Locate(ctx, key)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			return fmt.Errorf("key %s not found", rawKey)
		}
		return fmt.Errorf("get %s: %w", rawKey, err)
	}

	if jsonOut {
		return printJSON(map[string]string{"key": rawKey, "value": string(value.Bytes())})
	}
	printInfo("%s\n", value.Bytes())
	return nil
}
