package source

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeRBD writes a shell script standing in for the `rbd` CLI, dispatching
// on its first argument so tests can exercise RBDAdapter without a real
// Ceph cluster.
func fakeRBD(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake rbd script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "rbd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o750); err != nil {
		t.Fatalf("write fake rbd: %v", err)
	}
	return path
}

func TestRBDAdapterSize(t *testing.T) {
	rbdPath := fakeRBD(t, `
if [ "$1" = "info" ]; then
  echo '{"size": 1073741824}'
  exit 0
fi
exit 1
`)
	a := NewRBDAdapter("rbd", "image0", rbdPath)
	size, err := a.Size(context.Background())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1073741824 {
		t.Fatalf("expected 1073741824, got %d", size)
	}
}

func TestRBDAdapterReadyTransientOnFailure(t *testing.T) {
	rbdPath := fakeRBD(t, `exit 1`)
	a := NewRBDAdapter("rbd", "image0", rbdPath)
	err := a.Ready(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRBDAdapterBlocksToExamineNilParentIsFull(t *testing.T) {
	rbdPath := fakeRBD(t, `exit 1`) // never invoked for a nil parent
	a := NewRBDAdapter("rbd", "image0", rbdPath)
	bs, err := a.BlocksToExamine(context.Background(), nil)
	if err != nil {
		t.Fatalf("BlocksToExamine: %v", err)
	}
	if !bs.All {
		t.Fatalf("expected AllBlocks on first backup")
	}
}

func TestRBDAdapterSnapshotLifecycle(t *testing.T) {
	rbdPath := fakeRBD(t, `exit 0`)
	a := NewRBDAdapter("pool", "image0", rbdPath)
	ctx := context.Background()

	if err := a.SnapshotBegin(ctx); err != nil {
		t.Fatalf("SnapshotBegin: %v", err)
	}
	if a.liveSnap == "" {
		t.Fatalf("expected a live snapshot name to be set")
	}

	if err := a.AdoptRevisionID(ctx, "testuuid0000000000000"); err != nil {
		t.Fatalf("AdoptRevisionID: %v", err)
	}
	if a.liveSnap != snapName("testuuid0000000000000") {
		t.Fatalf("expected liveSnap to become the deterministic revision name, got %s", a.liveSnap)
	}

	if err := a.SnapshotEnd(ctx, true); err != nil {
		t.Fatalf("SnapshotEnd: %v", err)
	}
}
