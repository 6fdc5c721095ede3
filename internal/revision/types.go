// Package revision implements backy's revision metadata, packed chunk-map
// persistence, and the revision selection grammar (spec.md §4.2, §6).
package revision

import (
	"time"

	"backy/internal/chunkstore"
)

// Trust is the tri-state integrity marker carried by every completed
// revision (spec.md GLOSSARY "Distrust").
type Trust string

const (
	Trusted    Trust = "TRUSTED"
	Verified   Trust = "VERIFIED"
	Distrusted Trust = "DISTRUSTED"
)

// Stats records the byte/chunk counters gathered during one backup run.
type Stats struct {
	BytesRead     uint64 `yaml:"bytes_read"`
	ChunksWritten uint64 `yaml:"chunks_written"`
	ChunksReused  uint64 `yaml:"chunks_reused"`
}

// Revision is one point-in-time image of a repository's source (spec.md
// §4.2). Chunks is persisted separately as the packed chunk map
// (<repo>/<uuid>) rather than inline in the YAML metadata file, so it is
// excluded from YAML (de)serialization here.
type Revision struct {
	UUID      string                         `yaml:"uuid"`
	Timestamp time.Time                     `yaml:"timestamp"`
	Duration  float64                       `yaml:"duration"`
	Size      int64                         `yaml:"size"`
	Tags      []string                      `yaml:"tags"`
	Trust     Trust                          `yaml:"trust"`
	Stats     Stats                         `yaml:"stats"`
	Chunks    map[uint32]chunkstore.ChunkID `yaml:"-"`
}

// New creates a fresh, in-progress revision: empty chunk map, zero
// duration, TRUSTED (spec.md §4.2 "Lifecycle").
func New() (*Revision, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Revision{
		UUID:      id,
		Timestamp: time.Now().UTC(),
		Trust:     Trusted,
		Tags:      []string{},
		Chunks:    make(map[uint32]chunkstore.ChunkID),
	}, nil
}

// HasTag reports whether r carries tag t.
func (r *Revision) HasTag(t string) bool {
	for _, tag := range r.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// RemoveTag removes tag t from r's tag set, if present.
func (r *Revision) RemoveTag(t string) {
	out := r.Tags[:0]
	for _, tag := range r.Tags {
		if tag != t {
			out = append(out, tag)
		}
	}
	r.Tags = out
}

// AddTag adds tag t to r's tag set if not already present.
func (r *Revision) AddTag(t string) {
	if r.HasTag(t) {
		return
	}
	r.Tags = append(r.Tags, t)
}

// ChunkIDs returns the set of distinct chunk ids referenced by r, excluding
// holes.
func (r *Revision) ChunkIDs() map[chunkstore.ChunkID]struct{} {
	out := make(map[chunkstore.ChunkID]struct{}, len(r.Chunks))
	for _, id := range r.Chunks {
		out[id] = struct{}{}
	}
	return out
}
