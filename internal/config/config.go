// Package config loads backy's two YAML configuration surfaces (spec.md
// §6): the per-repository config file (schedule name + source spec) and
// the daemon-wide scheduler config (global/schedules/jobs). It also owns
// the interval-string grammar those documents share.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"backy/internal/retention"
)

// ErrConfigInvalid marks a YAML document that failed to parse or validate
// (spec.md §7 "ConfigInvalid"). Callers at startup treat this as fatal;
// callers handling a live reload log it and keep the previous config.
var ErrConfigInvalid = errors.New("config: invalid configuration")

// SourceSpec names a pluggable source adapter and its type-specific
// parameters, the same Type+Params shape gastrolog's ReceiverConfig/
// StoreConfig use, generalized to backy's one pluggable concern.
type SourceSpec struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params"`
}

// RepoConfig is a single repository's `config` file: which named schedule
// governs it and how to reach its source.
type RepoConfig struct {
	Schedule string     `yaml:"schedule"`
	Source   SourceSpec `yaml:"source"`
}

// LoadRepoConfig reads and validates a repository's config file.
func LoadRepoConfig(path string) (*RepoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg RepoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("%w: %s: missing schedule", ErrConfigInvalid, path)
	}
	if cfg.Source.Type == "" {
		return nil, fmt.Errorf("%w: %s: missing source.type", ErrConfigInvalid, path)
	}
	return &cfg, nil
}

// SaveRepoConfig writes cfg to path as YAML.
func SaveRepoConfig(path string, cfg *RepoConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// GlobalConfig holds the scheduler config's `global` section.
type GlobalConfig struct {
	BaseDir                 string `yaml:"base-dir"`
	WorkerLimit             int    `yaml:"worker-limit"`
	BackupCompletedCallback string `yaml:"backup-completed-callback"`
}

// ruleSpec is the raw, string-interval form of one retention rule as it
// appears in YAML, before ParseInterval converts it to a retention.Rule.
type ruleSpec struct {
	Interval string `yaml:"interval"`
	Keep     int    `yaml:"keep"`
}

// jobSpec is the raw form of one `jobs.<name>` entry.
type jobSpec struct {
	Schedule string     `yaml:"schedule"`
	Source   SourceSpec `yaml:"source"`
}

// rawDaemonConfig mirrors the on-disk YAML shape of the scheduler config
// exactly (spec.md §6): `global`, `schedules` (name -> tag -> rule),
// `jobs` (name -> job).
type rawDaemonConfig struct {
	Global    GlobalConfig                   `yaml:"global"`
	Schedules map[string]map[string]ruleSpec `yaml:"schedules"`
	Jobs      map[string]jobSpec             `yaml:"jobs"`
}

// JobConfig is one daemon-managed job: its resolved retention schedule and
// its source spec.
type JobConfig struct {
	Name     string
	Schedule retention.Schedule
	Source   SourceSpec
}

// DaemonConfig is the scheduler config, fully resolved: interval strings
// parsed to time.Duration, schedules expanded into retention.Schedule
// values and attached to each job by name.
type DaemonConfig struct {
	Global GlobalConfig
	Jobs   map[string]JobConfig
}

// LoadDaemonConfig reads, parses, and resolves the daemon-wide scheduler
// config file. Every error returned is wrapped in ErrConfigInvalid, so a
// caller at startup can treat any failure here as fatal (spec.md §7) while
// a caller reloading can match it and retain the previous config.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfigInvalid, path, err)
	}

	var raw rawDaemonConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfigInvalid, path, err)
	}
	if raw.Global.BaseDir == "" {
		return nil, fmt.Errorf("%w: %s: missing global.base-dir", ErrConfigInvalid, path)
	}
	if raw.Global.WorkerLimit <= 0 {
		return nil, fmt.Errorf("%w: %s: global.worker-limit must be positive", ErrConfigInvalid, path)
	}

	schedules := make(map[string]retention.Schedule, len(raw.Schedules))
	for name, rules := range raw.Schedules {
		sched := make(retention.Schedule, 0, len(rules))
		for tag, rule := range rules {
			interval, err := ParseInterval(rule.Interval)
			if err != nil {
				return nil, fmt.Errorf("%w: schedule %q tag %q: %v", ErrConfigInvalid, name, tag, err)
			}
			sched = append(sched, retention.Rule{Tag: tag, Interval: interval, Keep: rule.Keep})
		}
		schedules[name] = sched
	}

	jobs := make(map[string]JobConfig, len(raw.Jobs))
	for name, j := range raw.Jobs {
		sched, ok := schedules[j.Schedule]
		if !ok {
			return nil, fmt.Errorf("%w: job %q references unknown schedule %q", ErrConfigInvalid, name, j.Schedule)
		}
		if j.Source.Type == "" {
			return nil, fmt.Errorf("%w: job %q: missing source.type", ErrConfigInvalid, name)
		}
		jobs[name] = JobConfig{Name: name, Schedule: sched, Source: j.Source}
	}

	return &DaemonConfig{Global: raw.Global, Jobs: jobs}, nil
}

// SlowThreshold is the duration above which a job is considered slow for
// pool-assignment purposes (spec.md §4.6).
const SlowThreshold = 600 * time.Second
