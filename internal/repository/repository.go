// Package repository implements backy's per-repository operations (spec.md
// §4.3): locking, the reverse-incremental backup algorithm, restore,
// forget/expire, and verify, layered over internal/chunkstore and
// internal/revision.
package repository

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"backy/internal/chunkstore"
	"backy/internal/layout"
	"backy/internal/logging"
	"backy/internal/revision"
)

const revSuffix = ".rev"

// Repository is a single backed-up entity: its revision history plus the
// chunk store they share (spec.md §3 "Repository").
type Repository struct {
	dir    layout.Repo
	store  *chunkstore.Store
	logger *slog.Logger
}

// Open prepares a repository at dir, creating its directory structure and
// opening (scanning) its chunk store.
func Open(dir layout.Repo, logger *slog.Logger) (*Repository, error) {
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}
	store, err := chunkstore.Open(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Repository{
		dir:    dir,
		store:  store,
		logger: logging.Default(logger).With("component", "repository"),
	}, nil
}

// Close releases the repository's chunk store resources. It does not
// release any in-flight lock; callers always hold locks for the scope of a
// single operation via withExclusiveLock/withSharedLock.
func (r *Repository) Close() error {
	return r.store.Close()
}

func (r *Repository) withExclusiveLock(fn func() error) error {
	l, err := acquireLock(r.dir.LockPath(), true)
	if err != nil {
		return err
	}
	defer l.release()
	return fn()
}

func (r *Repository) withSharedLock(fn func() error) error {
	l, err := acquireLock(r.dir.LockPath(), false)
	if err != nil {
		return err
	}
	defer l.release()
	return fn()
}

// ListRevisionsLocked takes the repository's shared lock and lists its
// revisions (spec.md §4.3: "Read-only operations (status, restore) use a
// shared lock"). For top-level callers that aren't already holding a lock
// of their own (CLI status/tags/forget/verify/restore's revision-selection
// step); callers already inside withExclusiveLock/withSharedLock (Backup,
// Expire, distrustAllLocked, Newest) call the unlocked ListRevisions
// directly, since flock is per-open-file-description and a second
// acquireLock from the same process would itself fail with ErrLockHeld.
// Locking here serializes a directory listing against a concurrent
// exclusive-locked mutation (expire, forget, gc) that could otherwise
// delete a .rev file between ListRevisions' os.ReadDir and its per-file
// revision.ReadMeta, turning a benign race into a spurious hard failure.
func (r *Repository) ListRevisionsLocked() ([]*revision.Revision, error) {
	var revisions []*revision.Revision
	err := r.withSharedLock(func() error {
		var err error
		revisions, err = r.ListRevisions()
		return err
	})
	return revisions, err
}

// ListRevisions loads every completed revision's metadata (chunk maps are
// loaded lazily, on demand, via LoadChunkMap). Order is unspecified;
// callers needing an order use revision.Resolve / revision.ResolveAll or
// sort explicitly.
func (r *Repository) ListRevisions() ([]*revision.Revision, error) {
	entries, err := os.ReadDir(r.dir.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: list revisions: %w", err)
	}

	var revisions []*revision.Revision
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), revSuffix) {
			continue
		}
		rev, err := revision.ReadMeta(r.dir.RevisionMetaPath(strings.TrimSuffix(e.Name(), revSuffix)))
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, nil
}

// Newest returns the most recently timestamped completed revision, or nil
// if the repository has none yet (spec.md §4.3 step 1).
func (r *Repository) Newest() (*revision.Revision, error) {
	revisions, err := r.ListRevisions()
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, nil
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].Timestamp.After(revisions[j].Timestamp) })
	return revisions[0], nil
}

// LoadChunkMap loads rev's packed chunk map from disk.
func (r *Repository) LoadChunkMap(rev *revision.Revision) (map[uint32]chunkstore.ChunkID, error) {
	return revision.ReadChunkMap(r.dir.RevisionChunkMapPath(rev.UUID))
}

// persistMeta rewrites rev's YAML metadata file in place (used for trust
// transitions and tag edits on an already-completed revision).
func (r *Repository) persistMeta(rev *revision.Revision) error {
	return revision.WriteMeta(r.dir.RevisionMetaPath(rev.UUID), rev)
}

// PersistTags rewrites rev's metadata under an exclusive lock, for callers
// that have mutated its Tags field directly (the `backy tags` add/remove
// write path for manual: tags; spec.md §4.5's schedule-driven tag changes
// go through Expire instead).
func (r *Repository) PersistTags(rev *revision.Revision) error {
	return r.withExclusiveLock(func() error {
		return r.persistMeta(rev)
	})
}

// anyDistrusted reports whether any of revisions is DISTRUSTED (spec.md §3
// "distrust floor"; paranoid mode is active iff this holds).
func anyDistrusted(revisions []*revision.Revision) bool {
	for _, rv := range revisions {
		if rv.Trust == revision.Distrusted {
			return true
		}
	}
	return false
}

// syncParanoidMode refreshes the chunk store's paranoid flag from the
// current revision set. Called at the start of every mutating operation.
func (r *Repository) syncParanoidMode(revisions []*revision.Revision) {
	r.store.SetParanoid(anyDistrusted(revisions))
}

// distrustAllLocked marks every completed revision DISTRUSTED (spec.md §7
// IntegrityError: "Mark every revision of the repository DISTRUSTED. Next
// backup becomes full."). Backup and Verify hit this condition from a
// ChunkStore.Get integrity failure while already holding the repository's
// exclusive lock, and Restore while holding its shared lock, so this has
// no locking public counterpart: flock is
// per-open-file-description, and a second acquireLock call from the same
// process on an already-locked file fails with ErrLockHeld rather than
// succeeding reentrantly.
func (r *Repository) distrustAllLocked() error {
	revisions, err := r.ListRevisions()
	if err != nil {
		return err
	}
	for _, rv := range revisions {
		if rv.Trust == revision.Distrusted {
			continue
		}
		rv.Trust = revision.Distrusted
		if err := r.persistMeta(rv); err != nil {
			return err
		}
	}
	r.store.SetParanoid(true)
	return nil
}

// Forget removes rev's metadata and chunk map files under an exclusive lock
// (spec.md §4.3 "forget(R) removes R's metadata files under lock"). Orphaned
// chunks are left for the next purge. Callers already holding the lock
// (Expire, Verify) use forgetLocked directly.
func (r *Repository) Forget(rev *revision.Revision) error {
	return r.withExclusiveLock(func() error {
		return r.forgetLocked(rev)
	})
}

func (r *Repository) forgetLocked(rev *revision.Revision) error {
	if err := os.Remove(r.dir.RevisionMetaPath(rev.UUID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repository: forget %s: remove metadata: %w", rev.UUID, err)
	}
	if err := os.Remove(r.dir.RevisionChunkMapPath(rev.UUID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repository: forget %s: remove chunk map: %w", rev.UUID, err)
	}
	return nil
}

// quarantine copies plaintext aside for forensics under the repository's
// quarantine directory (spec.md GLOSSARY "Quarantine"). Never consulted by
// the read path.
func (r *Repository) quarantine(id chunkstore.ChunkID, plaintext []byte) error {
	path := r.dir.QuarantinePath(id.String())
	if err := os.MkdirAll(r.dir.QuarantineDir(), 0o750); err != nil {
		return fmt.Errorf("repository: create quarantine dir: %w", err)
	}
	if err := os.WriteFile(path, plaintext, 0o640); err != nil {
		return fmt.Errorf("repository: quarantine %s: %w", id, err)
	}
	return nil
}
