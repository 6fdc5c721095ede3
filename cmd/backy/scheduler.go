package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"backy/internal/config"
	"backy/internal/layout"
	"backy/internal/notify"
	"backy/internal/repository"
	"backy/internal/scheduler"
	"backy/internal/source"
)

func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run or control the daemon-wide backup scheduler",
	}
	cmd.AddCommand(newSchedulerRunCmd())
	return cmd
}

// openJobRepo is the scheduler.RepoOpener used by `scheduler run`: it opens
// the job's repository under base and the source adapter its config names,
// the same two steps cmd/backy's one-shot commands perform by hand against
// a single repo-dir.
func openJobRepo(base layout.Base) scheduler.RepoOpener {
	return func(job config.JobConfig) (*repository.Repository, source.Adapter, error) {
		dir := base.Repository(job.Name)
		if err := dir.EnsureExists(); err != nil {
			return nil, nil, err
		}
		repo, err := repository.Open(dir, repoLogger(dir))
		if err != nil {
			return nil, nil, err
		}
		adapter, err := openAdapter(job.Source)
		if err != nil {
			repo.Close()
			return nil, nil, err
		}
		return repo, adapter, nil
	}
}

func newSchedulerRunCmd() *cobra.Command {
	var daemonConfigPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()

			cfg, err := config.LoadDaemonConfig(daemonConfigPath)
			if err != nil {
				return fmt.Errorf("scheduler run: %w", err)
			}
			base := layout.NewBase(cfg.Global.BaseDir)

			sched, err := scheduler.New(cfg, openJobRepo(base), log)
			if err != nil {
				return fmt.Errorf("scheduler run: %w", err)
			}
			sched.Start()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// reload coalesces SIGHUP and fsnotify-driven config-file changes
			// into one trigger; WatchDaemonConfig already re-parses the file
			// and hands us the fresh config, so the SIGHUP path just re-reads
			// it the same way a file-change event would have.
			reload := notify.NewSignal()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						reload.Notify()
					}
				}
			}()

			go func() {
				err := config.WatchDaemonConfig(ctx, daemonConfigPath, log, func(*config.DaemonConfig) {
					reload.Notify()
				})
				if err != nil {
					log.Warn("config watch stopped", "error", err)
				}
			}()

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-reload.C():
						fresh, err := config.LoadDaemonConfig(daemonConfigPath)
						if err != nil {
							log.Warn("reload requested but config is invalid, keeping previous config", "error", err)
							continue
						}
						if err := sched.Reload(fresh); err != nil {
							log.Warn("reload failed", "error", err)
						}
					}
				}
			}()

			<-ctx.Done()
			log.Info("shutting down")
			return sched.Stop()
		},
	}

	cmd.Flags().StringVar(&daemonConfigPath, "daemon-config", "", "path to the daemon-wide scheduler config")
	_ = cmd.MarkFlagRequired("daemon-config")
	return cmd
}
