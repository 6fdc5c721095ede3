// Package scheduler implements backy's daemon-wide job scheduler
// (spec.md §4.6): a dual fast/slow worker pool gating concurrent backups,
// one state machine per managed repository, exponential backoff on
// failure, and the external run()/reload()/status() hooks spec.md §9
// requires be transport-agnostic.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"backy/internal/config"
	"backy/internal/logging"
	"backy/internal/repository"
	"backy/internal/retention"
	"backy/internal/source"
)

// RepoOpener resolves a job's configured source spec into an open
// repository and adapter pair. The scheduler has no opinion on what
// backs a particular source.Adapter; cmd/backy supplies the concrete
// mapping (file/ceph/virtual) at startup.
type RepoOpener func(job config.JobConfig) (*repository.Repository, source.Adapter, error)

// Scheduler runs every configured Job's state machine concurrently,
// gated by two bounded pools (spec.md §4.6).
type Scheduler struct {
	mu     sync.Mutex
	logger *slog.Logger

	clock    gocron.Scheduler // unbounded: deadline and backoff waits
	fastPool gocron.Scheduler // bounded: RUNNING(FAST)
	slowPool gocron.Scheduler // bounded: RUNNING(SLOW)

	jobs     map[string]*Job
	opener   RepoOpener
	callback string

	stopped bool
}

// New creates a Scheduler for cfg's jobs. opener is called once per job to
// obtain its repository and source adapter.
func New(cfg *config.DaemonConfig, opener RepoOpener, logger *slog.Logger) (*Scheduler, error) {
	logger = logging.Default(logger).With("component", "scheduler")

	clock, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create clock: %w", err)
	}
	fastPool, err := gocron.NewScheduler(gocron.WithLimitConcurrentJobs(uint(cfg.Global.WorkerLimit), gocron.LimitModeWait))
	if err != nil {
		return nil, fmt.Errorf("scheduler: create fast pool: %w", err)
	}
	slowPool, err := gocron.NewScheduler(gocron.WithLimitConcurrentJobs(uint(cfg.Global.WorkerLimit), gocron.LimitModeWait))
	if err != nil {
		return nil, fmt.Errorf("scheduler: create slow pool: %w", err)
	}

	s := &Scheduler{
		logger:   logger,
		clock:    clock,
		fastPool: fastPool,
		slowPool: slowPool,
		jobs:     make(map[string]*Job),
		opener:   opener,
		callback: cfg.Global.BackupCompletedCallback,
	}

	for name, jc := range cfg.Jobs {
		repo, adapter, err := opener(jc)
		if err != nil {
			return nil, fmt.Errorf("scheduler: open job %q: %w", name, err)
		}
		s.jobs[name] = newJob(name, repo, adapter, jc.Schedule)
	}

	return s, nil
}

// Start begins every job's state machine by putting it into
// WAITING_DEADLINE, and starts the underlying gocron schedulers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.Start()
	s.fastPool.Start()
	s.slowPool.Start()

	for _, j := range s.jobs {
		s.enterWaitingDeadlineLocked(j)
	}
}

// Stop implements spec.md §4.6's SIGTERM handling: stop accepting new
// runs, cancel every WAITING_* job, and wait for RUNNING jobs to finish
// before returning.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.stopped = true
	for _, j := range s.jobs {
		s.cancelWaitingLocked(j)
	}
	s.mu.Unlock()

	if err := s.clock.Shutdown(); err != nil {
		s.logger.Warn("clock shutdown error", "error", err)
	}
	// Shutdown blocks until in-flight jobs finish (spec.md: "let RUNNING finish").
	if err := s.fastPool.Shutdown(); err != nil {
		s.logger.Warn("fast pool shutdown error", "error", err)
	}
	if err := s.slowPool.Shutdown(); err != nil {
		s.logger.Warn("slow pool shutdown error", "error", err)
	}
	for _, j := range s.jobs {
		if err := j.Repo.Close(); err != nil {
			s.logger.Warn("repository close error", "job", j.Name, "error", err)
		}
	}
	return nil
}

// Run forces job name immediately through WAITING_SLOT regardless of its
// deadline (spec.md §4.6 "external run(job)"). It does not reset the
// failure counter or backoff.
func (s *Scheduler) Run(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	j.mu.Lock()
	state := j.state
	j.mu.Unlock()
	if state != WaitingDeadline {
		return nil // running, waiting for a slot, backing off after a failure, or dead
	}

	s.cancelWaitingLocked(j)
	s.enterWaitingSlotLocked(j)
	return nil
}

// Reload rebuilds the job set from a freshly loaded config (spec.md §4.6
// "external reload()"): new jobs start in WAITING_DEADLINE, vanished jobs
// transition to DEAD (allowed to finish if running), retained jobs keep
// their state.
func (s *Scheduler) Reload(cfg *config.DaemonConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for name, jc := range cfg.Jobs {
		seen[name] = struct{}{}
		if existing, ok := s.jobs[name]; ok {
			existing.mu.Lock()
			existing.Schedule = jc.Schedule
			existing.mu.Unlock()
			continue
		}
		repo, adapter, err := s.opener(jc)
		if err != nil {
			return fmt.Errorf("scheduler: reload: open job %q: %w", name, err)
		}
		j := newJob(name, repo, adapter, jc.Schedule)
		s.jobs[name] = j
		s.enterWaitingDeadlineLocked(j)
	}

	for name, j := range s.jobs {
		if _, ok := seen[name]; ok {
			continue
		}
		j.mu.Lock()
		wasRunning := j.state == Running
		j.state = Dead
		j.mu.Unlock()
		if !wasRunning {
			s.cancelWaitingLocked(j)
			if err := j.Repo.Close(); err != nil {
				s.logger.Warn("failed to close repository for removed job", "job", name, "error", err)
			}
			delete(s.jobs, name)
		}
		// A running job finishes naturally; its completion handlers see
		// state == Dead and skip re-entering WAITING_DEADLINE.
	}
	return nil
}

// Status returns a snapshot of every job, including whether it currently
// violates its schedule's SLA (spec.md §4.5/§8 invariant 7).
func (s *Scheduler) Status() ([]Status, error) {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		st := j.snapshot()
		revisions, err := j.Repo.ListRevisions()
		if err != nil {
			return nil, fmt.Errorf("scheduler: status: job %q: %w", j.Name, err)
		}
		st.SLAViolating = j.Schedule.SLAViolating(revisions, time.Now(), st.State == Running)
		out = append(out, st)
	}
	return out, nil
}

func (s *Scheduler) enterWaitingDeadlineLocked(j *Job) {
	j.mu.Lock()
	j.state = WaitingDeadline
	j.mu.Unlock()

	revisions, err := j.Repo.ListRevisions()
	if err != nil {
		s.logger.Error("failed to list revisions for deadline computation", "job", j.Name, "error", err)
		return
	}
	_, at, ok := j.Schedule.NextDue(revisions)
	if !ok {
		at = time.Now()
	}
	if at.Before(time.Now()) {
		at = time.Now()
	}

	jobID, err := s.clock.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(func() { s.onDeadline(j.Name) }),
		gocron.WithName("deadline:"+j.Name),
	)
	if err != nil {
		s.logger.Error("failed to schedule deadline", "job", j.Name, "error", err)
		return
	}
	j.mu.Lock()
	j.pendingClockJob = jobID.ID().String()
	j.mu.Unlock()
}

func (s *Scheduler) onDeadline(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	j, ok := s.jobs[name]
	if !ok {
		return
	}
	j.mu.Lock()
	dead := j.state == Dead
	j.pendingClockJob = ""
	j.mu.Unlock()
	if dead {
		return
	}
	s.enterWaitingSlotLocked(j)
}

func (s *Scheduler) enterWaitingSlotLocked(j *Job) {
	j.mu.Lock()
	j.state = WaitingSlot
	pool := poolFor(j.lastDuration)
	j.pool = pool
	j.mu.Unlock()

	target := s.fastPool
	if pool == SlowPool {
		target = s.slowPool
	}

	start := time.Now()
	jobID, err := target.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() error { return s.runBackup(j) }),
		gocron.WithName("run:"+j.Name),
		gocron.WithEventListeners(
			gocron.AfterJobRuns(func(_ uuid.UUID, _ string) { s.onFinished(j.Name, time.Since(start), nil) }),
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, _ string, jerr error) { s.onFinished(j.Name, time.Since(start), jerr) }),
		),
	)
	if err != nil {
		s.logger.Error("failed to dispatch backup", "job", j.Name, "error", err)
		return
	}
	j.mu.Lock()
	j.pendingPoolJob = jobID.ID().String()
	j.mu.Unlock()
}

func (s *Scheduler) runBackup(j *Job) error {
	j.mu.Lock()
	j.state = Running
	j.mu.Unlock()

	ctx := context.Background()
	rev, err := j.Repo.Backup(ctx, j.Adapter, nil)
	if err != nil {
		return err
	}
	s.logger.Info("backup finished", "job", j.Name, "revision", rev.UUID, "size", rev.Size)
	return nil
}

func (s *Scheduler) onFinished(name string, duration time.Duration, jobErr error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	j.pendingPoolJob = ""
	dead := j.state == Dead
	if jobErr != nil {
		j.state = Failed
		j.failures++
		j.lastErr = jobErr
	} else {
		j.state = Finished
		j.lastDuration = duration
		j.failures = 0
		j.lastErr = nil
	}
	failures := j.failures
	j.mu.Unlock()

	if jobErr != nil {
		s.logger.Warn("backup failed", "job", name, "error", jobErr, "failures", failures)
	}

	s.runCallback(j, jobErr)

	if dead {
		return // Reload marked this job DEAD while it was running.
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if jobErr != nil {
		s.scheduleBackoff(j, failures)
		return
	}
	s.mu.Lock()
	s.enterWaitingDeadlineLocked(j)
	s.mu.Unlock()
}

func (s *Scheduler) scheduleBackoff(j *Job, failures int) {
	wait := backoffDuration(failures)
	at := time.Now().Add(wait)
	jobID, err := s.clock.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(func() { s.onDeadline(j.Name) }),
		gocron.WithName("backoff:"+j.Name),
	)
	if err != nil {
		s.logger.Error("failed to schedule backoff", "job", j.Name, "error", err)
		return
	}
	j.mu.Lock()
	j.pendingClockJob = jobID.ID().String()
	j.mu.Unlock()
}

// cancelWaitingLocked removes any pending clock or not-yet-started pool
// job for j. Called with s.mu held.
func (s *Scheduler) cancelWaitingLocked(j *Job) {
	j.mu.Lock()
	clockID, poolID, pool := j.pendingClockJob, j.pendingPoolJob, j.pool
	j.pendingClockJob, j.pendingPoolJob = "", ""
	j.mu.Unlock()

	if clockID != "" {
		if id, err := uuid.Parse(clockID); err == nil {
			_ = s.clock.RemoveJob(id)
		}
	}
	if poolID != "" {
		target := s.fastPool
		if pool == SlowPool {
			target = s.slowPool
		}
		if id, err := uuid.Parse(poolID); err == nil {
			_ = target.RemoveJob(id)
		}
	}
}
