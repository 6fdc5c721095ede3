package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc <repo-dir>",
		Short: "Purge chunks not referenced by any surviving revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.GC(); err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			fmt.Println("gc complete")
			return nil
		},
	}
	return cmd
}
