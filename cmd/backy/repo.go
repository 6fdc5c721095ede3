package main

import (
	"fmt"
	"log/slog"
	"os"

	"backy/internal/config"
	"backy/internal/layout"
	"backy/internal/logging"
	"backy/internal/repository"
	"backy/internal/revision"
)

// openRepo opens the repository rooted at dir, creating its directory
// structure on first use (backy init already will have run for any
// repository actually in service, but backup/restore/etc. tolerate a bare
// directory too). Its logger mirrors every record into the repository's
// own backy.log (spec.md §6) in addition to the process-wide stream, so a
// single repository's history survives independent of the daemon's own
// log retention; the log file is intentionally never closed here; it lives
// for the process lifetime, same as the process's own stderr handle.
func openRepo(dir string) (*repository.Repository, error) {
	repo := layout.NewRepo(dir)
	if err := repo.EnsureExists(); err != nil {
		return nil, err
	}
	return repository.Open(repo, repoLogger(repo))
}

// repoLogger fans the base logger's output out to repo's backy.log as well.
// A log file that can't be opened isn't fatal to the operation it's
// logging for; the base logger is used alone instead.
func repoLogger(repo layout.Repo) *slog.Logger {
	base := logger()

	f, err := os.OpenFile(repo.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		base.Warn("could not open repository log file, logging to stderr only", "path", repo.LogPath(), "error", err)
		return base
	}
	fileHandler := slog.NewJSONHandler(f, nil)
	return slog.New(logging.NewMultiHandler(base.Handler(), fileHandler))
}

// resolveOne selects exactly one revision from repo per the spec.md §4.2
// grammar (uuid / index / latest|last / tag).
func resolveOne(repo *repository.Repository, selector string) (*revision.Revision, error) {
	revisions, err := repo.ListRevisionsLocked()
	if err != nil {
		return nil, err
	}
	rev, err := revision.Resolve(revisions, selector)
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", selector, err)
	}
	return rev, nil
}

// resolveMany selects one or many revisions from repo per spec.md §4.2's
// grammar, including the "all" literal.
func resolveMany(repo *repository.Repository, selector string) ([]*revision.Revision, error) {
	revisions, err := repo.ListRevisionsLocked()
	if err != nil {
		return nil, err
	}
	out, err := revision.ResolveAll(revisions, selector)
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", selector, err)
	}
	return out, nil
}

// repoConfigPath returns the per-repository config file path inside dir.
func repoConfigPath(dir string) string {
	return layout.NewRepo(dir).ConfigPath()
}

// loadRepoSource reads dir's repository config and returns the source
// spec it names; callers open the adapter with openAdapter.
func loadRepoSource(dir string) (config.SourceSpec, error) {
	cfg, err := config.LoadRepoConfig(repoConfigPath(dir))
	if err != nil {
		return config.SourceSpec{}, err
	}
	return cfg.Source, nil
}

// loadJob reads the daemon-wide scheduler config at daemonConfigPath and
// resolves name to its JobConfig plus the repository directory it lives in
// (<base-dir>/<name>), the same layout the scheduler itself uses. The
// expire subcommand uses it to obtain a job's retention schedule; jobs and
// check read the daemon config through jobSLAReport instead.
func loadJob(daemonConfigPath, name string) (config.JobConfig, string, error) {
	cfg, err := config.LoadDaemonConfig(daemonConfigPath)
	if err != nil {
		return config.JobConfig{}, "", err
	}
	job, ok := cfg.Jobs[name]
	if !ok {
		return config.JobConfig{}, "", fmt.Errorf("no job named %q in %s", name, daemonConfigPath)
	}
	dir := layout.NewBase(cfg.Global.BaseDir).Repository(name).Root()
	return job, dir, nil
}
