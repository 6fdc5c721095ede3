package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <repo-dir> <revision>",
		Short: "Remove a revision's metadata and chunk map (chunks purged on next gc)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, selector := args[0], args[1]

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			rev, err := resolveOne(repo, selector)
			if err != nil {
				return err
			}
			if err := repo.Forget(rev); err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			fmt.Printf("forgot revision %s\n", rev.UUID)
			return nil
		},
	}
	return cmd
}
