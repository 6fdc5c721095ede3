package scheduler

import (
	"sync"
	"time"

	"backy/internal/config"
	"backy/internal/repository"
	"backy/internal/retention"
	"backy/internal/source"
)

// State is a Job's position in the per-job state machine (spec.md §4.6).
type State int

const (
	Dead State = iota
	WaitingDeadline
	WaitingSlot
	Running
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Dead:
		return "DEAD"
	case WaitingDeadline:
		return "WAITING_DEADLINE"
	case WaitingSlot:
		return "WAITING_SLOT"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Pool names which worker pool a job's RUNNING state occupies (spec.md
// §4.6 "dual pools").
type Pool int

const (
	FastPool Pool = iota
	SlowPool
)

func (p Pool) String() string {
	if p == SlowPool {
		return "slow"
	}
	return "fast"
}

// SlowThreshold is re-exported from internal/config so callers of this
// package don't need a second import for one constant.
const SlowThreshold = config.SlowThreshold

// poolFor decides fast vs slow by the job's last completed duration
// (spec.md §4.6: "default fast on first run").
func poolFor(lastDuration time.Duration) Pool {
	if lastDuration >= SlowThreshold {
		return SlowPool
	}
	return FastPool
}

// backoffDuration computes the FAILED-state sleep after k consecutive
// failures (spec.md §4.6, §8 invariant 9): min(6h, 2min·2^(k-1)).
func backoffDuration(k int) time.Duration {
	if k <= 0 {
		return 0
	}
	const base = 2 * time.Minute
	const cap_ = 6 * time.Hour
	d := base
	for i := 1; i < k; i++ {
		d *= 2
		if d >= cap_ {
			return cap_
		}
	}
	if d > cap_ {
		return cap_
	}
	return d
}

// Job is one daemon-managed repository: its backup schedule, its current
// state-machine position, and the bookkeeping needed to decide the next
// transition.
type Job struct {
	mu sync.Mutex

	Name     string
	Repo     *repository.Repository
	Adapter  source.Adapter
	Schedule retention.Schedule

	state        State
	pool         Pool
	lastDuration time.Duration
	failures     int
	lastErr      error

	pendingClockJob string // gocron job ID of the pending deadline/backoff wait, if any
	pendingPoolJob  string // gocron job ID of the pending/running pool slot, if any
}

func newJob(name string, repo *repository.Repository, adapter source.Adapter, sched retention.Schedule) *Job {
	return &Job{
		Name:     name,
		Repo:     repo,
		Adapter:  adapter,
		Schedule: sched,
		state:    Dead,
		pool:     FastPool,
	}
}

// Status is a point-in-time, lock-free snapshot of a Job for external
// consumers of Scheduler.Status.
type Status struct {
	Name         string
	State        State
	Pool         Pool
	LastDuration time.Duration
	Failures     int
	LastError    string
	SLAViolating bool
}

// snapshot returns a lock-free copy of j's state-machine fields.
// SLAViolating is left false here: computing it needs ListRevisions I/O,
// which Scheduler.Status performs and fills in after calling snapshot.
func (j *Job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{
		Name:         j.Name,
		State:        j.state,
		Pool:         j.pool,
		LastDuration: j.lastDuration,
		Failures:     j.failures,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
