// Package chunkstore implements backy's content-addressed, deduplicating
// chunk store (spec.md §3, §4.1): a directory of compressed, immutable
// blobs keyed by the MurmurHash3-x64-128 hash of their plaintext, backed by
// an in-memory index rebuilt from disk at startup.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"backy/internal/layout"
	"backy/internal/logging"
)

// ChunkSize bounds the plaintext size of a single chunk (spec.md §3's
// CHUNK_SIZE).
const ChunkSize = 4 * 1024 * 1024 // 4 MiB

// unlinkBatchSize is the number of chunk removals grouped into one batch
// before the shard directories that batch touched are fsynced (spec.md
// §4.1); the last batch holds whatever remains.
const unlinkBatchSize = 1024

var (
	// ErrIntegrity is returned by Get when a chunk's on-disk bytes decompress
	// to content whose hash no longer matches the chunk id.
	ErrIntegrity = errors.New("chunkstore: integrity check failed")
	// ErrNotFound is returned by Get/Contains-adjacent calls for a missing chunk.
	ErrNotFound = errors.New("chunkstore: chunk not found")
)

// Store is a content-addressed chunk store for a single repository.
// The index is protected by mu; file I/O for distinct ids under normal
// (non-paranoid) operation does not need to serialize against other ids,
// but backy always calls through Put/Get under the repository's exclusive
// lock, so Store itself only guards its index and paranoid flag with mu;
// the codec is called without holding it.
type Store struct {
	repo   layout.Repo
	logger *slog.Logger

	mu       sync.Mutex
	index    map[ChunkID]struct{}
	paranoid bool

	codec *codec
}

// Open creates a Store rooted at repo and populates its index by scanning
// the on-disk chunk tree (spec.md's "populated at startup by scanning the
// tree").
func Open(repo layout.Repo, logger *slog.Logger) (*Store, error) {
	c, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("chunkstore: init codec: %w", err)
	}
	s := &Store{
		repo:   repo,
		logger: logging.Default(logger).With("component", "chunkstore"),
		index:  make(map[ChunkID]struct{}),
		codec:  c,
	}
	if _, err := s.Scan(); err != nil {
		c.close()
		return nil, err
	}
	return s, nil
}

// Close releases the store's codec resources.
func (s *Store) Close() error {
	s.codec.close()
	return nil
}

// SetParanoid toggles paranoid mode (spec.md §4.1). While active, Put never
// trusts the index and always re-verifies after write.
func (s *Store) SetParanoid(paranoid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paranoid = paranoid
}

// Paranoid reports whether paranoid mode is currently active.
func (s *Store) Paranoid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paranoid
}

// Session tracks chunk ids already written during a single backup run, so
// that paranoid mode's always-write policy still short-circuits duplicate
// writes within that run (spec.md §4.1).
type Session struct {
	seen map[ChunkID]struct{}
}

// NewSession creates an empty per-backup session.
func NewSession() *Session {
	return &Session{seen: make(map[ChunkID]struct{})}
}

// Put stores plaintext (idempotently) and returns its ChunkID and whether a
// new chunk file was written (spec.md §4.1).
func (s *Store) Put(plaintext []byte, session *Session) (ChunkID, bool, error) {
	if len(plaintext) > ChunkSize {
		return ChunkID{}, false, fmt.Errorf("chunkstore: plaintext exceeds chunk size: %d > %d", len(plaintext), ChunkSize)
	}
	id := HashChunk(plaintext)

	if session != nil {
		if _, ok := session.seen[id]; ok {
			return id, false, nil
		}
	}

	s.mu.Lock()
	_, known := s.index[id]
	paranoid := s.paranoid
	s.mu.Unlock()

	if known && !paranoid {
		if session != nil {
			session.seen[id] = struct{}{}
		}
		return id, false, nil
	}

	if err := s.write(id, plaintext, paranoid); err != nil {
		return ChunkID{}, false, err
	}

	s.mu.Lock()
	s.index[id] = struct{}{}
	s.mu.Unlock()

	if session != nil {
		session.seen[id] = struct{}{}
	}
	return id, true, nil
}

// write compresses plaintext and atomically installs it as id's chunk file.
// In paranoid mode, it additionally reads the file back and re-hashes it.
func (s *Store) write(id ChunkID, plaintext []byte, paranoid bool) error {
	path := s.repo.ChunkPath(id.String())
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("chunkstore: create shard dir: %w", err)
	}

	compressed := s.codec.compress(plaintext)

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("chunkstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(compressed); err != nil {
		cleanup()
		return fmt.Errorf("chunkstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("chunkstore: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chunkstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		// A lost race (another writer already renamed the same id into
		// place) is not an error: rename is atomic, one file survives.
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("chunkstore: rename into place: %w", err)
	}

	if paranoid {
		readBack, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("chunkstore: paranoid read-back: %w", err)
		}
		decoded, err := s.codec.decompress(readBack)
		if err != nil {
			return fmt.Errorf("chunkstore: paranoid decompress: %w", err)
		}
		if HashChunk(decoded) != id {
			return fmt.Errorf("%w: paranoid verification of %s", ErrIntegrity, id)
		}
	}

	return nil
}

// Get reads and decompresses chunk id, always re-hashing the result against
// id. A mismatch returns ErrIntegrity; callers (the repository layer) are
// responsible for the resulting distrust-every-revision transition, since
// that is a repository-level, not a store-level, concept.
func (s *Store) Get(id ChunkID) ([]byte, error) {
	path := s.repo.ChunkPath(id.String())
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("chunkstore: read %s: %w", id, err)
	}
	plaintext, err := s.codec.decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: decompress %s: %w", id, err)
	}
	if HashChunk(plaintext) != id {
		return nil, fmt.Errorf("%w: %s", ErrIntegrity, id)
	}
	return plaintext, nil
}

// Contains reports whether id is present in the in-memory index.
func (s *Store) Contains(id ChunkID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Scan rebuilds the in-memory index from disk, fixing up a dropped or
// partial index (spec.md §4.1). It returns the freshly scanned id set.
func (s *Store) Scan() (map[ChunkID]struct{}, error) {
	found := make(map[ChunkID]struct{})

	entries, err := os.ReadDir(s.repo.ChunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.index = found
			s.mu.Unlock()
			return found, nil
		}
		return nil, fmt.Errorf("chunkstore: scan chunks dir: %w", err)
	}

	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.repo.ChunksDir(), shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return nil, fmt.Errorf("chunkstore: scan shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			id, ok := idFromFilename(f.Name())
			if !ok {
				continue
			}
			found[id] = struct{}{}
		}
	}

	s.mu.Lock()
	s.index = found
	s.mu.Unlock()
	s.logger.Info("scanned chunk store", "chunks", len(found))
	return found, nil
}

const chunkFileSuffix = ".chunk.zst"

func idFromFilename(name string) (ChunkID, bool) {
	if !strings.HasSuffix(name, chunkFileSuffix) {
		return ChunkID{}, false
	}
	id, err := ParseChunkID(strings.TrimSuffix(name, chunkFileSuffix))
	if err != nil {
		return ChunkID{}, false
	}
	return id, true
}

// UnlinkUnreferenced removes every chunk file whose id is not in live.
// Removals are bundled into batches of unlinkBatchSize (the last batch
// holds the remainder), each
// followed by an fsync of every shard directory touched in that batch
// (spec.md §4.1).
func (s *Store) UnlinkUnreferenced(live map[ChunkID]struct{}) error {
	s.mu.Lock()
	candidates := make([]ChunkID, 0, len(s.index))
	for id := range s.index {
		if _, ok := live[id]; !ok {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	for start := 0; start < len(candidates); start += unlinkBatchSize {
		end := min(start+unlinkBatchSize, len(candidates))
		batch := candidates[start:end]
		touched := make(map[string]struct{})
		for _, id := range batch {
			path := s.repo.ChunkPath(id.String())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("chunkstore: remove %s: %w", id, err)
			}
			touched[filepath.Dir(path)] = struct{}{}
		}
		for dir := range touched {
			if err := fsyncDir(dir); err != nil {
				return err
			}
		}
		s.mu.Lock()
		for _, id := range batch {
			delete(s.index, id)
		}
		s.mu.Unlock()
	}
	s.logger.Info("unlinked unreferenced chunks", "removed", len(candidates))
	return nil
}

// Purge composes Scan then UnlinkUnreferenced (spec.md §4.1).
func (s *Store) Purge(live map[ChunkID]struct{}) error {
	if _, err := s.Scan(); err != nil {
		return err
	}
	return s.UnlinkUnreferenced(live)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("chunkstore: open dir %s for fsync: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("chunkstore: fsync dir %s: %w", dir, err)
	}
	return nil
}
