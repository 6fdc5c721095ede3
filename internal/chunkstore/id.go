package chunkstore

import (
	"encoding/hex"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// IDLen is the length in bytes of a ChunkID (128 bits).
const IDLen = 16

// ChunkID uniquely identifies a chunk by the content hash of its plaintext.
// It is a non-cryptographic 128-bit MurmurHash3-x64-128 digest, hex-encoded
// as 32 lowercase characters.
type ChunkID [IDLen]byte

// HashChunk computes the ChunkID for a plaintext block. Collisions within a
// single revision are assumed absent (see DESIGN.md); this is a deliberate
// tradeoff for throughput, not an oversight.
func HashChunk(plaintext []byte) ChunkID {
	h1, h2 := murmur3.Sum128(plaintext)
	var id ChunkID
	putUint64(id[0:8], h1)
	putUint64(id[8:16], h2)
	return id
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// String returns the 32-character lowercase hex representation.
func (id ChunkID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseChunkID parses a 32-character hex string into a ChunkID.
func ParseChunkID(s string) (ChunkID, error) {
	if len(s) != IDLen*2 {
		return ChunkID{}, fmt.Errorf("invalid chunk id length: %d (want %d)", len(s), IDLen*2)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return ChunkID{}, fmt.Errorf("invalid chunk id: %w", err)
	}
	var id ChunkID
	copy(id[:], decoded)
	return id, nil
}
