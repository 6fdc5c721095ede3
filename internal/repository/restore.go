package repository

import (
	"errors"
	"fmt"
	"io"

	"backy/internal/chunkstore"
	"backy/internal/revision"
)

// Sink is a restore destination. FileSink and StreamSink below cover the
// three destinations spec.md §4.3 names: a regular file, a block device,
// and stdout.
type Sink interface {
	// WriteBlock writes data for block index i. Implementations that can
	// only write sequentially (StreamSink) rely on Restore calling them in
	// ascending index order, which it always does.
	WriteBlock(i uint32, data []byte) error
	// Sync flushes the destination before Restore returns.
	Sync() error
}

// FileSink restores into a regular file or block device via WriteAt,
// allowing blocks to arrive in any order (Restore still delivers them
// ascending, but FileSink does not require it).
type FileSink struct {
	w interface {
		io.WriterAt
		Sync() error
	}
}

// NewFileSink wraps an *os.File (or anything offering WriteAt+Sync) as a
// restore destination, best-effort preallocating size bytes first (spec.md
// §4.3 step 1: "tolerate lack of allocation support").
func NewFileSink(w interface {
	io.WriterAt
	Sync() error
}, size int64) *FileSink {
	if t, ok := w.(interface{ Truncate(int64) error }); ok {
		_ = t.Truncate(size)
	}
	return &FileSink{w: w}
}

func (s *FileSink) WriteBlock(i uint32, data []byte) error {
	_, err := s.w.WriteAt(data, int64(i)*chunkstore.ChunkSize)
	return err
}

func (s *FileSink) Sync() error { return s.w.Sync() }

// StreamSink restores into a sequential writer (e.g. stdout). Blocks must
// arrive in strictly ascending order, which Restore guarantees.
type StreamSink struct {
	w io.Writer
}

// NewStreamSink wraps a sequential io.Writer as a restore destination.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) WriteBlock(i uint32, data []byte) error {
	_, err := s.w.Write(data)
	return err
}

func (s *StreamSink) Sync() error {
	if f, ok := s.w.(interface{ Sync() error }); ok {
		return f.Sync()
	}
	return nil
}

// Restore writes rev's content to sink in ascending block order (spec.md
// §4.3 "Restore algorithm"). Holes are written as explicit zero blocks
// rather than relying on the destination already being zero-filled, since
// sink may be a block device or a pipe. The destination is never read.
func (r *Repository) Restore(rev *revision.Revision, sink Sink) error {
	var result error
	err := r.withSharedLock(func() error {
		result = r.restoreLocked(rev, sink)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

func (r *Repository) restoreLocked(rev *revision.Revision, sink Sink) error {
	chunks, err := r.LoadChunkMap(rev)
	if err != nil {
		return err
	}

	total := blockCount(rev.Size)
	zero := make([]byte, chunkstore.ChunkSize)

	for i := 0; i < total; i++ {
		idx := uint32(i)

		length := int64(chunkstore.ChunkSize)
		if end := int64(idx)*chunkstore.ChunkSize + length; end > rev.Size {
			length = rev.Size - int64(idx)*chunkstore.ChunkSize
		}
		if length <= 0 {
			continue
		}

		id, isChunk := chunks[idx]
		var data []byte
		if isChunk {
			data, err = r.store.Get(id)
			if err != nil {
				if errors.Is(err, chunkstore.ErrIntegrity) {
					if derr := r.distrustAllLocked(); derr != nil {
						return derr
					}
				}
				return fmt.Errorf("repository: restore %s: block %d: %w", rev.UUID, idx, err)
			}
		} else {
			data = zero[:length]
		}

		if err := sink.WriteBlock(idx, data); err != nil {
			return fmt.Errorf("repository: restore %s: write block %d: %w", rev.UUID, idx, err)
		}
	}

	if err := sink.Sync(); err != nil {
		return fmt.Errorf("repository: restore %s: sync: %w", rev.UUID, err)
	}
	return nil
}
