package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "backup <repo-dir>",
		Short: "Run a single backup of a repository's configured source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			spec, err := loadRepoSource(dir)
			if err != nil {
				return err
			}
			adapter, err := openAdapter(spec)
			if err != nil {
				return err
			}

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			rev, err := repo.Backup(ctx, adapter, tags)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Printf("revision %s (%d bytes, %.1fs, trust=%s)\n", rev.UUID, rev.Size, rev.Duration, rev.Trust)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to apply to the resulting revision (repeatable)")
	return cmd
}
