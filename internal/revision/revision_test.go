package revision

import (
	"path/filepath"
	"testing"
	"time"

	"backy/internal/chunkstore"
)

func TestNewIDProducesValidShape(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if !ValidID(id) {
		t.Fatalf("NewID produced invalid id: %q", id)
	}
	if len(id) != idLen {
		t.Fatalf("expected length %d, got %d", idLen, len(id))
	}
}

func TestNewIDsAreDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestChunkMapRoundTrip(t *testing.T) {
	chunks := map[uint32]chunkstore.ChunkID{
		0: chunkstore.HashChunk([]byte("block zero")),
		3: chunkstore.HashChunk([]byte("block three")),
		1: chunkstore.HashChunk([]byte("block one")),
	}

	encoded := EncodeChunkMap(chunks)
	decoded, err := DecodeChunkMap(encoded)
	if err != nil {
		t.Fatalf("DecodeChunkMap: %v", err)
	}
	if len(decoded) != len(chunks) {
		t.Fatalf("expected %d entries, got %d", len(chunks), len(decoded))
	}
	for off, id := range chunks {
		got, ok := decoded[off]
		if !ok {
			t.Fatalf("missing offset %d after round trip", off)
		}
		if got != id {
			t.Fatalf("offset %d: expected %s, got %s", off, id, got)
		}
	}
}

func TestChunkMapOmitsHoles(t *testing.T) {
	// A hole is simply an absent entry in the map; verify the packed form
	// contains exactly one record when only offset 0 is present even though
	// logically the revision spans several blocks.
	chunks := map[uint32]chunkstore.ChunkID{
		0: chunkstore.HashChunk([]byte("only block")),
	}
	encoded := EncodeChunkMap(chunks)
	wantLen := 4 + chunkRecordSize // header + one record
	if len(encoded) != wantLen {
		t.Fatalf("expected encoded length %d, got %d", wantLen, len(encoded))
	}
}

func TestChunkMapFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadbeef")
	chunks := map[uint32]chunkstore.ChunkID{
		0: chunkstore.HashChunk([]byte("a")),
		1: chunkstore.HashChunk([]byte("b")),
	}
	if err := WriteChunkMap(path, chunks); err != nil {
		t.Fatalf("WriteChunkMap: %v", err)
	}
	got, err := ReadChunkMap(path)
	if err != nil {
		t.Fatalf("ReadChunkMap: %v", err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("expected %d entries, got %d", len(chunks), len(got))
	}
}

func TestRevisionYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rev.yaml")

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Duration = 12.5
	r.Size = 12582912
	r.Tags = []string{"daily", "manual:foo"}
	r.Trust = Verified
	r.Stats = Stats{BytesRead: 100, ChunksWritten: 3, ChunksReused: 1}

	if err := WriteMeta(path, r); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.UUID != r.UUID {
		t.Errorf("uuid mismatch: %s != %s", got.UUID, r.UUID)
	}
	if got.Duration != r.Duration {
		t.Errorf("duration mismatch: %v != %v", got.Duration, r.Duration)
	}
	if got.Size != r.Size {
		t.Errorf("size mismatch: %v != %v", got.Size, r.Size)
	}
	if got.Trust != r.Trust {
		t.Errorf("trust mismatch: %v != %v", got.Trust, r.Trust)
	}
	if !got.HasTag("daily") || !got.HasTag("manual:foo") {
		t.Errorf("tags not preserved: %v", got.Tags)
	}
	if got.Stats != r.Stats {
		t.Errorf("stats mismatch: %+v != %+v", got.Stats, r.Stats)
	}
}

func TestTagHelpers(t *testing.T) {
	r := &Revision{Tags: []string{"daily"}}
	if !r.HasTag("daily") {
		t.Fatalf("expected HasTag(daily) to be true")
	}
	r.AddTag("weekly")
	if !r.HasTag("weekly") {
		t.Fatalf("expected weekly tag after AddTag")
	}
	r.AddTag("weekly") // idempotent
	count := 0
	for _, tag := range r.Tags {
		if tag == "weekly" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one weekly tag, got %d", count)
	}
	r.RemoveTag("daily")
	if r.HasTag("daily") {
		t.Fatalf("expected daily tag to be removed")
	}
}

func makeRevision(t *testing.T, uuidOverride string, age time.Duration, tags ...string) *Revision {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if uuidOverride != "" {
		r.UUID = uuidOverride
	}
	r.Timestamp = time.Now().UTC().Add(-age)
	r.Tags = tags
	r.Duration = 1
	return r
}

func TestResolveByIndexAndLatest(t *testing.T) {
	newest := makeRevision(t, "", 0, "daily")
	middle := makeRevision(t, "", time.Hour, "daily")
	oldest := makeRevision(t, "", 2*time.Hour, "weekly")
	revisions := []*Revision{oldest, newest, middle} // deliberately unsorted

	got, err := Resolve(revisions, "latest")
	if err != nil {
		t.Fatalf("Resolve(latest): %v", err)
	}
	if got != newest {
		t.Fatalf("expected newest revision for \"latest\"")
	}

	got, err = Resolve(revisions, "0")
	if err != nil {
		t.Fatalf("Resolve(0): %v", err)
	}
	if got != newest {
		t.Fatalf("expected newest revision for index 0")
	}

	got, err = Resolve(revisions, "2")
	if err != nil {
		t.Fatalf("Resolve(2): %v", err)
	}
	if got != oldest {
		t.Fatalf("expected oldest revision for index 2")
	}
}

func TestResolveByUUID(t *testing.T) {
	target := makeRevision(t, "", time.Hour)
	other := makeRevision(t, "", 0)
	revisions := []*Revision{target, other}

	got, err := Resolve(revisions, target.UUID)
	if err != nil {
		t.Fatalf("Resolve by uuid: %v", err)
	}
	if got != target {
		t.Fatalf("expected to resolve the target revision by uuid")
	}
}

func TestResolveByTag(t *testing.T) {
	oldDaily := makeRevision(t, "", 2*time.Hour, "daily")
	newDaily := makeRevision(t, "", time.Hour, "daily")
	weekly := makeRevision(t, "", 0, "weekly")
	revisions := []*Revision{oldDaily, newDaily, weekly}

	got, err := Resolve(revisions, "daily")
	if err != nil {
		t.Fatalf("Resolve by tag: %v", err)
	}
	if got != newDaily {
		t.Fatalf("expected newest daily-tagged revision")
	}
}

func TestResolveAllLiteral(t *testing.T) {
	if _, err := Resolve(nil, "all"); err != ErrAllNotSingular {
		t.Fatalf("expected ErrAllNotSingular, got %v", err)
	}

	a := makeRevision(t, "", time.Hour)
	b := makeRevision(t, "", 0)
	got, err := ResolveAll([]*Revision{a, b}, "all")
	if err != nil {
		t.Fatalf("ResolveAll(all): %v", err)
	}
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("expected both revisions newest-first, got %v", got)
	}
}

func TestResolveNoMatch(t *testing.T) {
	revisions := []*Revision{makeRevision(t, "", 0, "daily")}
	if _, err := Resolve(revisions, "nonexistent-tag"); err == nil {
		t.Fatalf("expected error for unmatched selector")
	}
	if _, err := Resolve(revisions, "5"); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}
