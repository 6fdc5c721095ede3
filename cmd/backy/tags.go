package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backy/internal/revision"
)

// manualPrefix mirrors internal/retention's convention: tags applied by an
// operator through this command, never touched by schedule-driven expiry.
const manualPrefix = "manual:"

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags <repo-dir> <revision>",
		Short: "List a revision's tags",
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
			fmt.Printf("%s: %v\n", rev.UUID, rev.Tags)
			return nil
		},
	}

	cmd.AddCommand(newTagAddCmd(), newTagRemoveCmd())
	return cmd
}

func newTagAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <repo-dir> <revision> <tag>",
		Short: "Add a manual: tag to a revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTag(args[0], args[1], args[2], (*revision.Revision).AddTag)
		},
	}
}

func newTagRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <repo-dir> <revision> <tag>",
		Short: "Remove a manual: tag from a revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTag(args[0], args[1], args[2], (*revision.Revision).RemoveTag)
		},
	}
}

// editTag resolves selector within dir, applies edit(rev, tag), and
// persists the resulting tag set. Only manual: tags may be hand-edited
// this way (spec.md §4.5: schedule tags are managed by expire, not an
// operator); this is the write path the retention engine itself has no
// use for.
func editTag(dir, selector, tag string, edit func(*revision.Revision, string)) error {
	if !strings.HasPrefix(tag, manualPrefix) {
		return fmt.Errorf("tag %q: operator-managed tags must be prefixed %q", tag, manualPrefix)
	}

	repo, err := openRepo(dir)
	if err != nil {
		return err
	}
	defer repo.Close()

	rev, err := resolveOne(repo, selector)
	if err != nil {
		return err
	}

	edit(rev, tag)
	if err := repo.PersistTags(rev); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	fmt.Printf("%s: %v\n", rev.UUID, rev.Tags)
	return nil
}
