package scheduler

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"

	"backy/internal/revision"
)

// callbackStatus is the YAML document piped to the backup-completed
// callback's stdin (spec.md §4.6: "the YAML status of the repository").
type callbackStatus struct {
	Job      string             `yaml:"job"`
	State    string             `yaml:"state"`
	Error    string             `yaml:"error,omitempty"`
	Newest   *revision.Revision `yaml:"newest_revision,omitempty"`
	Duration float64            `yaml:"duration"`
}

// runCallback invokes the configured backup-completed-callback command, if
// any, with job_name as argv[1] and the repository's YAML status on
// stdin. Callback failure is logged but never changes job state (spec.md
// §4.6).
func (s *Scheduler) runCallback(j *Job, jobErr error) {
	if s.callback == "" {
		return
	}

	newest, err := j.Repo.Newest()
	if err != nil {
		s.logger.Warn("callback: failed to load newest revision", "job", j.Name, "error", err)
	}

	j.mu.Lock()
	status := callbackStatus{
		Job:      j.Name,
		State:    j.state.String(),
		Newest:   newest,
		Duration: j.lastDuration.Seconds(),
	}
	j.mu.Unlock()
	if jobErr != nil {
		status.Error = jobErr.Error()
	}

	body, err := yaml.Marshal(status)
	if err != nil {
		s.logger.Warn("callback: failed to marshal status", "job", j.Name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.callback, j.Name)
	cmd.Stdin = bytes.NewReader(body)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Warn("backup-completed callback failed", "job", j.Name, "error", err, "output", string(out))
	}
}
