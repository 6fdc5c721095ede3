package revision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WriteMeta atomically writes r's YAML metadata to path, per spec.md §6's
// revision file schema. Chunks is not part of this file; callers persist it
// separately via WriteChunkMap.
func WriteMeta(path string, r *Revision) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("revision: marshal metadata: %w", err)
	}
	return atomicWrite(path, data)
}

// ReadMeta reads and parses a revision's YAML metadata file. The returned
// Revision's Chunks field is nil; callers load the packed chunk map
// separately via ReadChunkMap.
func ReadMeta(path string) (*Revision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("revision: read metadata %s: %w", path, err)
	}
	var r Revision
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("revision: parse metadata %s: %w", path, err)
	}
	return &r, nil
}
