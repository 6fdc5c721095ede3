package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"syscall"
	"time"

	"backy/internal/chunkstore"
	"backy/internal/revision"
	"backy/internal/source"
)

// sampleSize caps how many chunks post-backup sampling verification
// re-reads; it is separate from VerifyTimeout, which bounds Verify
// (spec.md §5).
const sampleSize = 1000

// Backup runs the reverse-incremental, content-addressed backup algorithm
// (spec.md §4.3) against adapter, tagging the resulting revision with tags.
func (r *Repository) Backup(ctx context.Context, adapter source.Adapter, tags []string) (*revision.Revision, error) {
	var result *revision.Revision
	err := r.withExclusiveLock(func() error {
		rev, err := r.backupLocked(ctx, adapter, tags)
		result = rev
		return err
	})
	return result, err
}

func (r *Repository) backupLocked(ctx context.Context, adapter source.Adapter, tags []string) (*revision.Revision, error) {
	start := time.Now()

	existing, err := r.ListRevisions()
	if err != nil {
		return nil, err
	}
	r.syncParanoidMode(existing)

	var parent *revision.Revision
	for _, rv := range existing {
		if parent == nil || rv.Timestamp.After(parent.Timestamp) {
			parent = rv
		}
	}

	if err := adapter.Ready(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	size, err := adapter.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: size: %v", ErrSourceUnavailable, err)
	}

	rev, err := revision.New()
	if err != nil {
		return nil, err
	}
	rev.Size = size
	rev.Tags = append([]string{}, tags...)

	if err := adapter.SnapshotBegin(ctx); err != nil {
		return nil, fmt.Errorf("repository: snapshot begin: %w", err)
	}
	committed := false
	defer func() {
		if err := adapter.SnapshotEnd(ctx, committed); err != nil {
			r.logger.Warn("snapshot end failed", "error", err)
		}
	}()

	// Escalate to a full backup if there is no parent, the adapter has no
	// differencing capability, or the parent is distrusted (spec.md §4.3
	// steps 1, 6).
	full := parent == nil || adapter.FullAlways() || (parent != nil && parent.Trust == revision.Distrusted)

	var blockSet source.BlockSet
	if full {
		blockSet = source.AllBlocks()
	} else {
		blockSet, err = adapter.BlocksToExamine(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("%w: blocks_to_examine: %v", ErrSourceUnavailable, err)
		}
	}

	totalBlocks := blockCount(size)
	var indices []uint32
	if blockSet.All {
		indices = make([]uint32, totalBlocks)
		for i := range indices {
			indices[i] = uint32(i)
		}
	} else {
		indices = blockSet.Indices
	}

	session := chunkstore.NewSession()
	examined := make(map[uint32]struct{}, len(indices))

	for _, idx := range indices {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		examined[idx] = struct{}{}
		data, err := adapter.ReadBlock(ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrSourceCorrupt, idx, err)
		}
		rev.Stats.BytesRead += uint64(len(data))

		if isAllZero(data) {
			continue // hole: no entry recorded
		}

		id, wasNew, err := r.store.Put(data, session)
		if err != nil {
			return nil, classifyStoreWriteErr(err)
		}
		rev.Chunks[idx] = id
		if wasNew {
			rev.Stats.ChunksWritten++
		} else {
			rev.Stats.ChunksReused++
		}
	}

	// Inherit unexamined blocks from the parent (spec.md §4.3 step 5): each
	// revision's chunk map is self-contained, so backy copies forward
	// rather than leaving a gap that implies "ask the parent".
	if parent != nil && !full {
		parentChunks, err := r.LoadChunkMap(parent)
		if err != nil {
			return nil, err
		}
		for idx, id := range parentChunks {
			if _, ok := examined[idx]; !ok {
				rev.Chunks[idx] = id
			}
		}
	}

	rev.Duration = time.Since(start).Seconds()

	if err := revision.WriteChunkMap(r.dir.RevisionChunkMapPath(rev.UUID), rev.Chunks); err != nil {
		return nil, err
	}
	if err := r.persistMeta(rev); err != nil {
		return nil, err
	}
	committed = true

	if adapter2, ok := adapter.(adoptsRevisionID); ok {
		if err := adapter2.AdoptRevisionID(ctx, rev.UUID); err != nil {
			r.logger.Warn("adapter failed to adopt revision snapshot name", "error", err)
		}
	}

	if err := r.sampleVerify(ctx, adapter, rev); err != nil {
		r.logger.Warn("post-backup sampling verification failed to run", "error", err)
	}

	return rev, nil
}

// adoptsRevisionID is implemented by adapters (like RBDAdapter) whose
// snapshot needs to be renamed to the now-known revision uuid once the
// backup that uses it has succeeded.
type adoptsRevisionID interface {
	AdoptRevisionID(ctx context.Context, uuid string) error
}

// sampleVerify implements spec.md §4.3 step 8 for a freshly-TRUSTED
// revision: sample min(number of chunks in rev, sampleSize) of its
// non-hole blocks, re-read them from source, compare to the stored chunk. Mismatches are quarantined and demote trust
// to DISTRUSTED without failing the backup.
func (r *Repository) sampleVerify(ctx context.Context, adapter source.Adapter, rev *revision.Revision) error {
	offsets := make([]uint32, 0, len(rev.Chunks))
	for off := range rev.Chunks {
		offsets = append(offsets, off)
	}
	if len(offsets) == 0 {
		return nil
	}

	n := sampleSize
	if n > len(offsets) {
		n = len(offsets)
	}
	rand.Shuffle(len(offsets), func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })
	sample := offsets[:n]

	mismatch := false
	for _, off := range sample {
		id := rev.Chunks[off]
		stored, err := r.store.Get(id)
		if err != nil {
			if errors.Is(err, chunkstore.ErrIntegrity) {
				if derr := r.distrustAllLocked(); derr != nil {
					return derr
				}
			}
			mismatch = true
			continue
		}
		fresh, err := adapter.ReadBlock(ctx, off)
		if err != nil {
			continue // adapter cannot re-read; skip rather than false-positive
		}
		if !bytes.Equal(stored, fresh) {
			mismatch = true
			if err := r.quarantine(id, stored); err != nil {
				r.logger.Warn("failed to quarantine mismatched chunk", "chunk", id, "error", err)
			}
		}
	}

	if mismatch {
		rev.Trust = revision.Distrusted
		return r.persistMeta(rev)
	}
	return nil
}

func blockCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + chunkstore.ChunkSize - 1) / chunkstore.ChunkSize)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func classifyStoreWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}
	return err
}
