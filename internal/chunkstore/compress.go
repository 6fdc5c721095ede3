package chunkstore

import "github.com/klauspost/compress/zstd"

// codec wraps a zstd encoder/decoder pair for whole-chunk compression.
// Chunks are bounded at CHUNK_SIZE and addressed by content hash, so unlike
// gastrolog's seekable framing for long-lived log segments, each chunk is
// compressed and decompressed as a single frame.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) compress(plaintext []byte) []byte {
	return c.enc.EncodeAll(plaintext, make([]byte, 0, len(plaintext)))
}

func (c *codec) decompress(compressed []byte) ([]byte, error) {
	return c.dec.DecodeAll(compressed, nil)
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
