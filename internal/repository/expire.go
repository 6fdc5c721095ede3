package repository

import (
	"fmt"

	"backy/internal/chunkstore"
	"backy/internal/retention"
)

// Expire applies schedule's keep rules to the repository's revisions under
// exclusive lock (spec.md §4.5 "Expiry"): mutated revisions are rewritten
// in place, emptied ones are forgotten entirely. It does not run a chunk
// purge itself; call GC afterward (spec.md separates expiry from reclaim).
func (r *Repository) Expire(schedule retention.Schedule) (retention.ExpireResult, error) {
	var result retention.ExpireResult
	err := r.withExclusiveLock(func() error {
		revisions, err := r.ListRevisions()
		if err != nil {
			return err
		}
		result = retention.Expire(revisions, schedule)

		for _, rev := range result.Mutated {
			if err := r.persistMeta(rev); err != nil {
				return fmt.Errorf("repository: expire: persist %s: %w", rev.UUID, err)
			}
		}
		for _, rev := range result.Forgotten {
			if err := r.forgetLocked(rev); err != nil {
				return fmt.Errorf("repository: expire: forget %s: %w", rev.UUID, err)
			}
		}
		return nil
	})
	return result, err
}

// GC unlinks every chunk not referenced by a surviving revision (spec.md
// §4.3 "gc"). It holds the exclusive lock for the whole pass: a backup
// racing a GC could otherwise see its newly-written chunk unlinked before
// its chunk map is persisted.
func (r *Repository) GC() error {
	return r.withExclusiveLock(func() error {
		revisions, err := r.ListRevisions()
		if err != nil {
			return err
		}
		live := make(map[chunkstore.ChunkID]struct{})
		for _, rev := range revisions {
			chunks, err := r.LoadChunkMap(rev)
			if err != nil {
				return fmt.Errorf("repository: gc: load chunk map %s: %w", rev.UUID, err)
			}
			for _, id := range chunks {
				live[id] = struct{}{}
			}
		}
		return r.store.Purge(live)
	})
}
