// Package layout resolves the on-disk paths of a backy base directory and
// the repositories beneath it.
//
// Layout (spec.md §6):
//
//	<base_dir>/
//	  <job_name>/
//	    config                      schedule name + source spec (YAML)
//	    .backy.lock                  process lock file
//	    <uuid>                       packed chunk map
//	    <uuid>.rev                   revision metadata (YAML)
//	    chunks/<aa>/<id>.chunk.zst   compressed chunk
//	    quarantine/<id>              chunks that failed verification
//	    backy.log                    per-repo log
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Base represents a backy base directory containing many repositories.
type Base struct {
	root string
}

// NewBase creates a Base with an explicit root path.
func NewBase(root string) Base {
	return Base{root: root}
}

// DefaultBase returns a Base using the platform-appropriate default
// location for daemon state (e.g. ~/.config/backy on Linux).
func DefaultBase() (Base, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Base{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Base{root: filepath.Join(base, "backy")}, nil
}

// Root returns the base directory path.
func (b Base) Root() string {
	return b.root
}

// EnsureExists creates the base directory (and parents) if missing.
func (b Base) EnsureExists() error {
	if err := os.MkdirAll(b.root, 0o750); err != nil {
		return fmt.Errorf("create base directory %s: %w", b.root, err)
	}
	return nil
}

// Repository returns the layout for a single repository (job) by name.
func (b Base) Repository(jobName string) Repo {
	return Repo{root: filepath.Join(b.root, jobName)}
}

// Jobs lists the repository directories under the base directory, i.e.
// every subdirectory that has a "config" file.
func (b Base) Jobs() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read base directory %s: %w", b.root, err)
	}
	var jobs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(b.root, e.Name(), "config")); err == nil {
			jobs = append(jobs, e.Name())
		}
	}
	return jobs, nil
}

// Repo resolves paths within a single repository directory.
type Repo struct {
	root string
}

// NewRepo creates a Repo rooted at an explicit path, bypassing Base.
func NewRepo(root string) Repo {
	return Repo{root: root}
}

// Root returns the repository's root directory.
func (r Repo) Root() string { return r.root }

// EnsureExists creates the repository directory (and its chunks/quarantine
// subdirectories) if missing.
func (r Repo) EnsureExists() error {
	if err := os.MkdirAll(r.ChunksDir(), 0o750); err != nil {
		return fmt.Errorf("create chunks directory: %w", err)
	}
	if err := os.MkdirAll(r.QuarantineDir(), 0o750); err != nil {
		return fmt.Errorf("create quarantine directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the repository's schedule/source config.
func (r Repo) ConfigPath() string {
	return filepath.Join(r.root, "config")
}

// LockPath returns the path to the repository's exclusive lock file.
func (r Repo) LockPath() string {
	return filepath.Join(r.root, ".backy.lock")
}

// LogPath returns the path to the repository's per-repo log file.
func (r Repo) LogPath() string {
	return filepath.Join(r.root, "backy.log")
}

// ChunksDir returns the root of the chunk tree.
func (r Repo) ChunksDir() string {
	return filepath.Join(r.root, "chunks")
}

// ChunkShard returns the subdirectory holding chunks whose id starts with
// the given 2-character hex prefix.
func (r Repo) ChunkShard(prefix string) string {
	return filepath.Join(r.ChunksDir(), prefix)
}

// ChunkPath returns the on-disk path for a chunk id.
func (r Repo) ChunkPath(id string) string {
	return filepath.Join(r.ChunkShard(id[:2]), id+".chunk.zst")
}

// QuarantineDir returns the root of the quarantine tree.
func (r Repo) QuarantineDir() string {
	return filepath.Join(r.root, "quarantine")
}

// QuarantinePath returns the path for a quarantined chunk id.
func (r Repo) QuarantinePath(id string) string {
	return filepath.Join(r.QuarantineDir(), id)
}

// RevisionMetaPath returns the path to a revision's YAML metadata file.
func (r Repo) RevisionMetaPath(uuid string) string {
	return filepath.Join(r.root, uuid+".rev")
}

// RevisionChunkMapPath returns the path to a revision's packed chunk map.
func (r Repo) RevisionChunkMapPath(uuid string) string {
	return filepath.Join(r.root, uuid)
}
