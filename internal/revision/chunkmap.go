package revision

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"backy/internal/chunkstore"
	"backy/internal/format"
)

const chunkMapVersion = 1

// chunkRecordSize is the packed size of one (offset_index, chunk_id) entry:
// a little-endian u32 followed by a 16-byte chunk id (spec.md §6).
const chunkRecordSize = 4 + chunkstore.IDLen

// EncodeChunkMap packs chunks into the on-disk format: a format.Header
// followed by records sorted by offset ascending. Holes (absent entries in
// the map) are never written out.
func EncodeChunkMap(chunks map[uint32]chunkstore.ChunkID) []byte {
	offsets := sortedOffsets(chunks)

	buf := make([]byte, 0, format.HeaderSize+len(offsets)*chunkRecordSize)
	hdr := format.Header{Type: format.TypeChunkMap, Version: chunkMapVersion}
	hdrBytes := hdr.Encode()
	buf = append(buf, hdrBytes[:]...)

	var rec [chunkRecordSize]byte
	for _, off := range offsets {
		id := chunks[off]
		putUint32LE(rec[0:4], off)
		copy(rec[4:], id[:])
		buf = append(buf, rec[:]...)
	}
	return buf
}

// DecodeChunkMap unpacks a chunk map previously produced by EncodeChunkMap.
func DecodeChunkMap(data []byte) (map[uint32]chunkstore.ChunkID, error) {
	if _, err := format.DecodeAndValidate(data, format.TypeChunkMap, chunkMapVersion); err != nil {
		return nil, fmt.Errorf("revision: decode chunk map header: %w", err)
	}

	body := data[format.HeaderSize:]
	if len(body)%chunkRecordSize != 0 {
		return nil, fmt.Errorf("revision: chunk map body length %d is not a multiple of record size %d", len(body), chunkRecordSize)
	}

	n := len(body) / chunkRecordSize
	chunks := make(map[uint32]chunkstore.ChunkID, n)
	for i := 0; i < n; i++ {
		rec := body[i*chunkRecordSize : (i+1)*chunkRecordSize]
		off := getUint32LE(rec[0:4])
		var id chunkstore.ChunkID
		copy(id[:], rec[4:])
		chunks[off] = id
	}
	return chunks, nil
}

func sortedOffsets(chunks map[uint32]chunkstore.ChunkID) []uint32 {
	offsets := make([]uint32, 0, len(chunks))
	for off := range chunks {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// WriteChunkMap atomically writes the packed form of chunks to path
// (temp file in the same directory, fsync, rename), matching the atomic
// persistence discipline used throughout backy's on-disk writers.
func WriteChunkMap(path string, chunks map[uint32]chunkstore.ChunkID) error {
	return atomicWrite(path, EncodeChunkMap(chunks))
}

// ReadChunkMap reads and decodes the packed chunk map at path.
func ReadChunkMap(path string) (map[uint32]chunkstore.ChunkID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("revision: read chunk map %s: %w", path, err)
	}
	return DecodeChunkMap(data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rev-*")
	if err != nil {
		return fmt.Errorf("revision: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("revision: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("revision: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("revision: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("revision: rename into place: %w", err)
	}
	return nil
}
