package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6 / SPEC_FULL.md §3 "backy check": 0 success, 1
// generic/configuration failure, 2 reserved for check-command CRITICAL.
const (
	exitOK            = 0
	exitConfigProblem = 1
	exitSLAViolating  = 2
)

func newCheckCmd() *cobra.Command {
	var daemonConfigPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Nagios-style check: exit 2 if any job is SLA-violating, 1 on a config problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := jobSLAReport(daemonConfigPath)
			if err != nil {
				fmt.Println("CONFIG PROBLEM:", err)
				os.Exit(exitConfigProblem)
			}

			var violating, broken []string
			for _, j := range report {
				switch {
				case j.err != nil:
					broken = append(broken, fmt.Sprintf("%s (%v)", j.name, j.err))
				case j.violates:
					violating = append(violating, j.name)
				}
			}

			switch {
			case len(violating) > 0:
				fmt.Printf("CRITICAL: %d job(s) SLA-violating: %v\n", len(violating), violating)
				os.Exit(exitSLAViolating)
			case len(broken) > 0:
				fmt.Printf("CONFIG PROBLEM: %d job(s) could not be checked: %v\n", len(broken), broken)
				os.Exit(exitConfigProblem)
			default:
				fmt.Printf("OK: %d job(s) within SLA\n", len(report))
				os.Exit(exitOK)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&daemonConfigPath, "daemon-config", "", "path to the daemon-wide scheduler config")
	_ = cmd.MarkFlagRequired("daemon-config")
	return cmd
}
