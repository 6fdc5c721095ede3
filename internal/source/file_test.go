package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"backy/internal/chunkstore"
)

func TestFileAdapterSizeAndReadBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.img")
	data := make([]byte, chunkstore.ChunkSize+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a := NewFileAdapter(path)
	ctx := context.Background()

	size, err := a.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), size)
	}

	if err := a.Ready(ctx); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	block0, err := a.ReadBlock(ctx, 0)
	if err != nil {
		t.Fatalf("ReadBlock(0): %v", err)
	}
	if len(block0) != chunkstore.ChunkSize {
		t.Fatalf("expected full chunk, got %d bytes", len(block0))
	}

	block1, err := a.ReadBlock(ctx, 1)
	if err != nil {
		t.Fatalf("ReadBlock(1): %v", err)
	}
	if len(block1) != 100 {
		t.Fatalf("expected short final block of 100 bytes, got %d", len(block1))
	}
}

func TestFileAdapterAlwaysFull(t *testing.T) {
	a := NewFileAdapter("/nonexistent")
	if !a.FullAlways() {
		t.Fatalf("file adapter must always be full-always")
	}
	bs, err := a.BlocksToExamine(context.Background(), nil)
	if err != nil {
		t.Fatalf("BlocksToExamine: %v", err)
	}
	if !bs.All {
		t.Fatalf("expected BlockSet.All=true")
	}
}

func TestFileAdapterReadyFailsOnMissingFile(t *testing.T) {
	a := NewFileAdapter(filepath.Join(t.TempDir(), "missing"))
	err := a.Ready(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !IsTransient(err) {
		t.Fatalf("expected a transient error, got %v", err)
	}
}
