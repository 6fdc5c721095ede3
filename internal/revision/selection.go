package revision

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrNoMatch is returned when a selection expression resolves to no
// revision.
var ErrNoMatch = errors.New("revision: no matching revision")

// ErrAllNotSingular is returned by Resolve when given the "all" literal,
// which only ResolveAll accepts.
var ErrAllNotSingular = errors.New("revision: \"all\" is not a single-revision selector")

// sortedNewestFirst returns a copy of revisions ordered by Timestamp
// descending, so index 0 is the newest (spec.md §4.2 selection grammar:
// "N-th newest completed revision (0 = newest)").
func sortedNewestFirst(revisions []*Revision) []*Revision {
	out := make([]*Revision, len(revisions))
	copy(out, revisions)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Resolve selects exactly one revision out of revisions per spec.md §4.2's
// grammar: a full uuid; a non-negative integer N meaning the N-th newest
// (0 = newest); the literal "latest" or "last"; or a tag, resolving to the
// newest revision bearing it.
func Resolve(revisions []*Revision, expr string) (*Revision, error) {
	if expr == "all" {
		return nil, ErrAllNotSingular
	}

	ordered := sortedNewestFirst(revisions)

	if expr == "latest" || expr == "last" {
		if len(ordered) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatch, expr)
		}
		return ordered[0], nil
	}

	if n, err := strconv.Atoi(expr); err == nil && n >= 0 {
		if n >= len(ordered) {
			return nil, fmt.Errorf("%w: index %d (only %d revisions)", ErrNoMatch, n, len(ordered))
		}
		return ordered[n], nil
	}

	if ValidID(expr) {
		for _, r := range ordered {
			if r.UUID == expr {
				return r, nil
			}
		}
		return nil, fmt.Errorf("%w: uuid %s", ErrNoMatch, expr)
	}

	// Fall back to tag resolution: newest revision bearing the tag.
	for _, r := range ordered {
		if r.HasTag(expr) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: tag or id %q", ErrNoMatch, expr)
}

// ResolveAll selects many revisions: "all" returns every revision
// (newest-first); any other expression delegates to Resolve and wraps the
// single result.
func ResolveAll(revisions []*Revision, expr string) ([]*Revision, error) {
	if expr == "all" {
		return sortedNewestFirst(revisions), nil
	}
	r, err := Resolve(revisions, expr)
	if err != nil {
		return nil, err
	}
	return []*Revision{r}, nil
}
