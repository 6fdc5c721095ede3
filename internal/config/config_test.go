package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseIntervalUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"10m": 10 * time.Minute,
		"1d":  24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
		"30s": 30 * time.Second,
		"3h":  3 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseInterval(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseIntervalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "m", "10", "10x", "-5m"} {
		if _, err := ParseInterval(in); err == nil {
			t.Errorf("ParseInterval(%q): expected error", in)
		}
	}
}

func TestLoadRepoConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := &RepoConfig{
		Schedule: "nightly",
		Source:   SourceSpec{Type: "file", Params: map[string]string{"path": "/dev/sdb1"}},
	}
	if err := SaveRepoConfig(path, cfg); err != nil {
		t.Fatalf("SaveRepoConfig: %v", err)
	}
	got, err := LoadRepoConfig(path)
	if err != nil {
		t.Fatalf("LoadRepoConfig: %v", err)
	}
	if got.Schedule != cfg.Schedule || got.Source.Type != cfg.Source.Type {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestLoadRepoConfigRejectsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("schedule: nightly\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	_, err := LoadRepoConfig(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadDaemonConfigResolvesSchedulesAndJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backy.yaml")
	doc := `
global:
  base-dir: /var/lib/backy
  worker-limit: 2
schedules:
  nightly:
    daily:
      interval: 1d
      keep: 7
jobs:
  db1:
    schedule: nightly
    source:
      type: rbd
      params:
        pool: rbd
        image: db1
`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}
	if cfg.Global.WorkerLimit != 2 {
		t.Fatalf("worker limit = %d, want 2", cfg.Global.WorkerLimit)
	}
	job, ok := cfg.Jobs["db1"]
	if !ok {
		t.Fatal("expected job db1")
	}
	if len(job.Schedule) != 1 || job.Schedule[0].Tag != "daily" || job.Schedule[0].Interval != 24*time.Hour {
		t.Fatalf("unexpected resolved schedule: %+v", job.Schedule)
	}
	if job.Source.Params["image"] != "db1" {
		t.Fatalf("unexpected source params: %+v", job.Source)
	}
}

func TestLoadDaemonConfigRejectsUnknownScheduleReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backy.yaml")
	doc := `
global:
  base-dir: /var/lib/backy
  worker-limit: 1
jobs:
  db1:
    schedule: missing
    source:
      type: file
      params: {}
`
	if err := os.WriteFile(path, []byte(doc), 0o640); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDaemonConfig(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadDaemonConfigRejectsMissingWorkerLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backy.yaml")
	if err := os.WriteFile(path, []byte("global:\n  base-dir: /x\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDaemonConfig(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
