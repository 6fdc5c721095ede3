package main

import (
	"fmt"

	"backy/internal/config"
	"backy/internal/source"
)

// openAdapter builds the source.Adapter named by spec.Type, the CLI-side
// counterpart of the scheduler's RepoOpener (cmd/backy has no RPC server to
// delegate this to, so every subcommand that touches a source resolves it
// the same way).
func openAdapter(spec config.SourceSpec) (source.Adapter, error) {
	switch spec.Type {
	case "file":
		path := spec.Params["path"]
		if path == "" {
			return nil, fmt.Errorf("source type %q: missing path param", spec.Type)
		}
		return source.NewFileAdapter(path), nil

	case "rbd":
		pool := spec.Params["pool"]
		image := spec.Params["image"]
		if pool == "" || image == "" {
			return nil, fmt.Errorf("source type %q: missing pool/image param", spec.Type)
		}
		return source.NewRBDAdapter(pool, image, spec.Params["rbd-path"]), nil

	case "virtual":
		inner := config.SourceSpec{Type: spec.Params["inner-type"], Params: spec.Params}
		innerAdapter, err := openAdapter(inner)
		if err != nil {
			return nil, fmt.Errorf("source type %q: inner adapter: %w", spec.Type, err)
		}
		freeze := splitCommand(spec.Params["freeze-cmd"])
		thaw := splitCommand(spec.Params["thaw-cmd"])
		return source.NewVirtualAdapter(innerAdapter, freeze, thaw), nil

	default:
		return nil, fmt.Errorf("unknown source type %q", spec.Type)
	}
}

// splitCommand splits a space-separated command string into argv, the
// simplest form that covers the freeze/thaw wrapper scripts spec.md §4.4
// describes; it does not support quoting.
func splitCommand(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := -1
	for i, c := range s {
		if c == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
