package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"backy/internal/chunkstore"
	"backy/internal/revision"
)

// FileAdapter reads a plain regular file (or block device node) as the
// backup source. It has no change-tracking mechanism of its own, so it is
// always a "full-always" adapter: every backup examines every block.
type FileAdapter struct {
	path string
}

// NewFileAdapter creates an adapter reading path.
func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

func (a *FileAdapter) Size(ctx context.Context) (int64, error) {
	fi, err := os.Stat(a.path)
	if err != nil {
		return 0, fmt.Errorf("source(file): stat %s: %w", a.path, err)
	}
	return fi.Size(), nil
}

func (a *FileAdapter) Ready(ctx context.Context) error {
	if _, err := os.Stat(a.path); err != nil {
		return &TransientError{Err: err}
	}
	f, err := os.Open(a.path)
	if err != nil {
		return &TransientError{Err: err}
	}
	return f.Close()
}

// BlocksToExamine always returns AllBlocks: a plain file offers no
// differencing mechanism (spec.md §4.3 step 3, "full-always sources").
func (a *FileAdapter) BlocksToExamine(ctx context.Context, parent *revision.Revision) (BlockSet, error) {
	return AllBlocks(), nil
}

func (a *FileAdapter) ReadBlock(ctx context.Context, i uint32) ([]byte, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("source(file): open %s: %w", a.path, err)
	}
	defer f.Close()

	offset := int64(i) * chunkstore.ChunkSize
	buf := make([]byte, chunkstore.ChunkSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("source(file): read block %d: %w", i, err)
	}
	return buf[:n], nil
}

// SnapshotBegin is a no-op: a plain file has no separate snapshot concept.
func (a *FileAdapter) SnapshotBegin(ctx context.Context) error { return nil }

// SnapshotEnd is a no-op for the same reason.
func (a *FileAdapter) SnapshotEnd(ctx context.Context, commit bool) error { return nil }

func (a *FileAdapter) FullAlways() bool { return true }
