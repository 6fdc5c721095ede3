package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backy/internal/config"
	"backy/internal/layout"
)

func newInitCmd() *cobra.Command {
	var schedule, sourceType string
	var sourceParams []string

	cmd := &cobra.Command{
		Use:   "init <repo-dir>",
		Short: "Create a new repository directory and write its config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if schedule == "" {
				return fmt.Errorf("--schedule is required")
			}
			if sourceType == "" {
				return fmt.Errorf("--source-type is required")
			}
			params, err := parseParams(sourceParams)
			if err != nil {
				return err
			}

			repo := layout.NewRepo(dir)
			if err := repo.EnsureExists(); err != nil {
				return err
			}
			cfg := &config.RepoConfig{
				Schedule: schedule,
				Source:   config.SourceSpec{Type: sourceType, Params: params},
			}
			if err := config.SaveRepoConfig(repo.ConfigPath(), cfg); err != nil {
				return err
			}
			fmt.Printf("initialized repository %s (schedule %q, source %q)\n", dir, schedule, sourceType)
			return nil
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "named retention schedule this repository is governed by")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "source adapter type: file, rbd, virtual")
	cmd.Flags().StringArrayVar(&sourceParams, "source-param", nil, "source parameter key=value (repeatable)")
	return cmd
}

// parseParams parses a list of "key=value" strings into a map, the same
// shape config.SourceSpec.Params expects.
func parseParams(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --source-param %q: want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
