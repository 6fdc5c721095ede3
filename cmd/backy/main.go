// Command backy runs block-level, content-addressed backups: one-shot
// operations against a single repository (backup, restore, verify, gc,
// status, tags, forget), read-only reports across a daemon config (jobs,
// check), and the scheduling daemon itself (scheduler run).
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"backy/internal/logging"
)

var version = "dev"

// baseLogger is set once by the root command's PersistentPreRunE, before any
// subcommand's RunE runs, and read by every subcommand via logger().
var baseLogger *slog.Logger

// logger returns the process-wide base logger, falling back to a discard
// logger if called outside the cobra lifecycle (e.g. from a test helper).
func logger() *slog.Logger {
	return logging.Default(baseLogger)
}

func main() {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:   "backy",
		Short: "Block-level, content-addressed backup and restore",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			baseLogger = newLogger(logLevel, logFormat)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")

	rootCmd.AddCommand(
		newInitCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newVerifyCmd(),
		newExpireCmd(),
		newGCCmd(),
		newStatusCmd(),
		newJobsCmd(),
		newCheckCmd(),
		newTagsCmd(),
		newForgetCmd(),
		newSchedulerCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process-wide base logger per --log-level/--log-format.
// Outside internal/logging, only this function and repoLogger (which wraps
// this logger's handler) call slog.New; every other component receives its
// logger through construction.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewComponentFilterHandler(handler, lvl))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
