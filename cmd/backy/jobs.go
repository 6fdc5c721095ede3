package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"backy/internal/config"
	"backy/internal/layout"
)

// jobSLA is one row of a daemon-wide SLA report: a job's name, whether it is
// currently SLA-violating, and the error hit resolving it (an unreadable
// repository is itself reported rather than silently skipped; a missing one
// is created empty by openRepo and so reports as SLA-violating).
type jobSLA struct {
	name     string
	violates bool
	err      error
}

// jobSLAReport computes jobSLA for every job in the daemon config at
// daemonConfigPath, without needing a running daemon: it reads each
// repository's revisions directly and asks its schedule whether it is
// overdue (spec.md §4.5). "running" is always false here since nothing
// but the scheduler itself knows a job's live state. While a backup holds a
// repository's exclusive lock, ListRevisionsLocked cannot take the shared
// lock, so that job is reported with ErrLockHeld instead of an SLA verdict.
func jobSLAReport(daemonConfigPath string) ([]jobSLA, error) {
	cfg, err := config.LoadDaemonConfig(daemonConfigPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Jobs))
	for name := range cfg.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	base := layout.NewBase(cfg.Global.BaseDir)
	out := make([]jobSLA, 0, len(names))
	for _, name := range names {
		job := cfg.Jobs[name]
		repo, err := openRepo(base.Repository(name).Root())
		if err != nil {
			out = append(out, jobSLA{name: name, err: err})
			continue
		}
		revisions, err := repo.ListRevisionsLocked()
		closeErr := repo.Close()
		if err != nil {
			out = append(out, jobSLA{name: name, err: err})
			continue
		}
		if closeErr != nil {
			out = append(out, jobSLA{name: name, err: closeErr})
			continue
		}
		out = append(out, jobSLA{name: name, violates: job.Schedule.SLAViolating(revisions, time.Now(), false)})
	}
	return out, nil
}

func newJobsCmd() *cobra.Command {
	var daemonConfigPath string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List every configured job's SLA status",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := jobSLAReport(daemonConfigPath)
			if err != nil {
				return err
			}
			for _, j := range report {
				switch {
				case j.err != nil:
					fmt.Printf("%-20s ERROR: %v\n", j.name, j.err)
				case j.violates:
					fmt.Printf("%-20s SLA-VIOLATING\n", j.name)
				default:
					fmt.Printf("%-20s ok\n", j.name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&daemonConfigPath, "daemon-config", "", "path to the daemon-wide scheduler config")
	_ = cmd.MarkFlagRequired("daemon-config")
	return cmd
}
