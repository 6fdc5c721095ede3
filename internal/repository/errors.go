package repository

import "errors"

// Error kinds from spec.md §7, propagated with %w so callers can classify
// them with errors.Is regardless of the underlying cause.
var (
	// ErrSourceUnavailable marks a transient source failure; the scheduler
	// should back off rather than treat the job as hard-failed.
	ErrSourceUnavailable = errors.New("repository: source unavailable")
	// ErrSourceCorrupt marks a source that reported an unreadable block
	// mid-backup: the revision is aborted, but prior revisions are not
	// distrusted (only a chunk-store IntegrityError does that).
	ErrSourceCorrupt = errors.New("repository: source reported unreadable block")
	// ErrDiskFull marks a write failure due to exhausted storage; the
	// current operation rolls back its partial revision.
	ErrDiskFull = errors.New("repository: disk full")
)
