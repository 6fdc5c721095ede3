package source

import (
	"context"
	"fmt"
	"os/exec"

	"backy/internal/revision"
)

// VirtualAdapter wraps another snapshot-capable adapter (typically an
// RBDAdapter) and quiesces the guest filesystem via an external freeze
// command before the inner snapshot is taken, then thaws it afterward
// (spec.md §4.4: "a virtualised variant that first quiesces the source
// filesystem via an external freeze command before taking the snapshot").
// The freeze/thaw commands are expected to be small wrapper scripts (e.g.
// invoking guest-agent fsfreeze over QMP); backy treats them as opaque
// external processes, mirroring how the Ceph adapter shells out to `rbd`.
type VirtualAdapter struct {
	inner Adapter

	freezeCmd []string
	thawCmd   []string
}

// NewVirtualAdapter wraps inner, running freezeCmd before every
// SnapshotBegin and thawCmd after every SnapshotEnd.
func NewVirtualAdapter(inner Adapter, freezeCmd, thawCmd []string) *VirtualAdapter {
	return &VirtualAdapter{inner: inner, freezeCmd: freezeCmd, thawCmd: thawCmd}
}

func (a *VirtualAdapter) Size(ctx context.Context) (int64, error) { return a.inner.Size(ctx) }

func (a *VirtualAdapter) Ready(ctx context.Context) error { return a.inner.Ready(ctx) }

func (a *VirtualAdapter) BlocksToExamine(ctx context.Context, parent *revision.Revision) (BlockSet, error) {
	return a.inner.BlocksToExamine(ctx, parent)
}

func (a *VirtualAdapter) ReadBlock(ctx context.Context, i uint32) ([]byte, error) {
	return a.inner.ReadBlock(ctx, i)
}

// SnapshotBegin quiesces the guest filesystem, then delegates to inner.
// If the inner snapshot fails, the guest is thawed immediately rather than
// left frozen for the rest of the (aborted) backup.
func (a *VirtualAdapter) SnapshotBegin(ctx context.Context) error {
	if err := a.runHook(ctx, a.freezeCmd); err != nil {
		return fmt.Errorf("source(virtual): freeze: %w", err)
	}
	if err := a.inner.SnapshotBegin(ctx); err != nil {
		_ = a.runHook(ctx, a.thawCmd)
		return err
	}
	return nil
}

// SnapshotEnd releases the inner snapshot, then always thaws the guest
// regardless of the inner result or commit outcome (spec.md §4.4:
// "release guaranteed on every exit path").
func (a *VirtualAdapter) SnapshotEnd(ctx context.Context, commit bool) error {
	innerErr := a.inner.SnapshotEnd(ctx, commit)
	thawErr := a.runHook(ctx, a.thawCmd)
	if innerErr != nil {
		return innerErr
	}
	return thawErr
}

func (a *VirtualAdapter) FullAlways() bool { return a.inner.FullAlways() }

func (a *VirtualAdapter) runHook(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run %v: %w: %s", argv, err, out)
	}
	return nil
}
