package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExpireCmd() *cobra.Command {
	var daemonConfigPath string

	cmd := &cobra.Command{
		Use:   "expire <job-name>",
		Short: "Apply a job's retention schedule, dropping expired tags",
		Long: "Apply the named schedule's keep rules: a tag survives on only its newest Keep " +
			"revisions; a revision left with no tags at all is forgotten.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			job, dir, err := loadJob(daemonConfigPath, name)
			if err != nil {
				return err
			}

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			result, err := repo.Expire(job.Schedule)
			if err != nil {
				return fmt.Errorf("expire: %w", err)
			}
			fmt.Printf("expire %s: %d revision(s) tag-trimmed, %d forgotten\n", name, len(result.Mutated), len(result.Forgotten))
			return nil
		},
	}

	cmd.Flags().StringVar(&daemonConfigPath, "daemon-config", "", "path to the daemon-wide scheduler config")
	_ = cmd.MarkFlagRequired("daemon-config")
	return cmd
}
