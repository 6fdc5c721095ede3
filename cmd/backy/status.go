package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <repo-dir>",
		Short: "List a repository's revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			repo, err := openRepo(dir)
			if err != nil {
				return err
			}
			defer repo.Close()

			revisions, err := repo.ListRevisionsLocked()
			if err != nil {
				return err
			}
			sort.Slice(revisions, func(i, j int) bool { return revisions[i].Timestamp.After(revisions[j].Timestamp) })

			if len(revisions) == 0 {
				fmt.Println("no revisions")
				return nil
			}
			for _, rev := range revisions {
				fmt.Printf("%s  %s  %10d bytes  trust=%-10s tags=%v\n",
					rev.UUID, rev.Timestamp.Format(time.RFC3339), rev.Size, rev.Trust, rev.Tags)
			}
			return nil
		},
	}
	return cmd
}
