// Package source defines backy's Source Adapter contract (spec.md §4.4)
// and its three reference implementations: a plain file, a Ceph RBD image,
// and a virtualized source that quiesces via an external freeze command.
package source

import (
	"context"
	"errors"
	"time"

	"backy/internal/revision"
)

// ReadyTimeout is the default budget for a Ready probe (spec.md §5).
const ReadyTimeout = 30 * time.Second

// TransientError marks a Ready failure as transient: the scheduler should
// back off rather than treat the job as hard-failed (spec.md §4.4: "return
// transient failure to let the scheduler back off without a full error").
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "source transiently unavailable: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or something it wraps) is a
// TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// BlockSet is the result of BlocksToExamine: either "examine everything"
// (All) or an explicit set of block indices (spec.md §4.3 step 3: "the
// adapter contract guarantees correctness if it returns any superset of
// the actually-changed blocks").
type BlockSet struct {
	All     bool
	Indices []uint32
}

// AllBlocks returns a BlockSet requesting examination of every block.
func AllBlocks() BlockSet { return BlockSet{All: true} }

// SomeBlocks returns a BlockSet naming exactly the given indices.
func SomeBlocks(indices []uint32) BlockSet { return BlockSet{Indices: indices} }

// Adapter is the contract a pluggable source must implement (spec.md
// §4.4). Small-capability interfaces in the style of gastrolog's own
// config/store abstractions: no deep inheritance, one interface per
// concern.
type Adapter interface {
	// Size returns the logical size of the source in bytes.
	Size(ctx context.Context) (int64, error)

	// Ready performs a fast availability probe. A transient condition
	// (source momentarily unreachable) should be returned wrapped in
	// TransientError so the scheduler backs off instead of hard-failing.
	Ready(ctx context.Context) error

	// BlocksToExamine returns the blocks backup must read this run. parent
	// is the previous completed revision, or nil if none exists.
	BlocksToExamine(ctx context.Context, parent *revision.Revision) (BlockSet, error)

	// ReadBlock reads up to CHUNK_SIZE bytes starting at block index i.
	// A short read is only valid at end-of-source.
	ReadBlock(ctx context.Context, i uint32) ([]byte, error)

	// SnapshotBegin optionally acquires a consistent view of the source
	// for the duration of one backup. Adapters with no such concept
	// (e.g. a plain file) may no-op.
	SnapshotBegin(ctx context.Context) error

	// SnapshotEnd releases whatever SnapshotBegin acquired. It is called
	// on every exit path, including failure; commit indicates whether the
	// backup that used the snapshot completed successfully.
	SnapshotEnd(ctx context.Context, commit bool) error

	// FullAlways reports whether this adapter has no differential
	// capability at all, so BlocksToExamine should always be treated as
	// returning every block (spec.md §9 legacy "full-always" flag).
	FullAlways() bool
}
