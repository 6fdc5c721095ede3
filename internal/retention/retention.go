// Package retention implements backy's tag-based retention and SLA engine
// (spec.md §4.5): an ordered schedule of (tag, interval, keep) rules,
// applied as a pure function over a repository's current revision
// snapshot — no I/O, mirroring gastrolog's chunk/retention.go shape.
package retention

import (
	"sort"
	"strings"
	"time"

	"backy/internal/revision"
)

// manualPrefix marks tags a user applied directly; such tags are never
// subject to schedule-driven expiry (spec.md §4.5).
const manualPrefix = "manual:"

// Rule is one schedule entry: tag t expires to at most Keep revisions and
// is considered due again Interval after the newest revision bearing it.
type Rule struct {
	Tag      string
	Interval time.Duration
	Keep     int
}

// Schedule is an ordered list of rules (spec.md §4.5/§6: "ordered mapping
// tag → {interval, keep}").
type Schedule []Rule

// newestWithTag returns the most recently timestamped revision bearing tag,
// or nil if none do.
func newestWithTag(revisions []*revision.Revision, tag string) *revision.Revision {
	var newest *revision.Revision
	for _, r := range revisions {
		if !r.HasTag(tag) {
			continue
		}
		if newest == nil || r.Timestamp.After(newest.Timestamp) {
			newest = r
		}
	}
	return newest
}

// dueAt returns the fire time for rule: newest_t.timestamp + interval, or
// the zero Time (always "due") if no revision currently bears the tag.
func dueAt(rule Rule, revisions []*revision.Revision) time.Time {
	newest := newestWithTag(revisions, rule.Tag)
	if newest == nil {
		return time.Time{}
	}
	return newest.Timestamp.Add(rule.Interval)
}

// NextDue returns the earliest fire time among the schedule's rules and the
// tag it belongs to (spec.md §4.5 "next_due()"). ok is false for an empty
// schedule.
func (s Schedule) NextDue(revisions []*revision.Revision) (tag string, at time.Time, ok bool) {
	for i, rule := range s {
		fireAt := dueAt(rule, revisions)
		if i == 0 || fireAt.Before(at) {
			tag, at, ok = rule.Tag, fireAt, true
		}
	}
	return
}

// DueTags returns every tag whose fire time has passed as of now (spec.md
// §4.5 "due_tags(now)").
func (s Schedule) DueTags(revisions []*revision.Revision, now time.Time) []string {
	var due []string
	for _, rule := range s {
		if !dueAt(rule, revisions).After(now) {
			due = append(due, rule.Tag)
		}
	}
	return due
}

// Overdue reports whether rule's tag is SLA-overdue: now is past
// 1.5×Interval since the newest revision bearing it (spec.md §4.5). A tag
// with no revision at all is always overdue.
func (s Schedule) Overdue(rule Rule, revisions []*revision.Revision, now time.Time) bool {
	newest := newestWithTag(revisions, rule.Tag)
	if newest == nil {
		return true
	}
	slaDeadline := newest.Timestamp.Add(time.Duration(1.5 * float64(rule.Interval)))
	return now.After(slaDeadline)
}

// SLAViolating reports whether any rule's tag is overdue. A currently
// running job is never SLA-violating regardless of overdue tags (spec.md
// §4.5: "a job is SLA-violating iff any tag is overdue and it is not
// currently running").
func (s Schedule) SLAViolating(revisions []*revision.Revision, now time.Time, running bool) bool {
	if running {
		return false
	}
	for _, rule := range s {
		if s.Overdue(rule, revisions, now) {
			return true
		}
	}
	return false
}

// ExpireResult is the outcome of applying a Schedule's keep rules to a
// revision snapshot.
type ExpireResult struct {
	// Mutated holds revisions whose tag set changed (a schedule tag was
	// dropped because it fell outside the rule's keep window). Their Tags
	// field already reflects the new set; callers persist the change.
	Mutated []*revision.Revision
	// Forgotten holds revisions whose tag set became empty as a result and
	// must be removed entirely (spec.md §4.5).
	Forgotten []*revision.Revision
}

// Expire applies schedule's keep rules to revisions (spec.md §4.5
// "Expiry"): for each tag, retain it on only the keep newest revisions
// bearing it; manual: tags are never touched by this process since no
// schedule rule names them. A revision left with no tags at all is
// reported for removal.
func Expire(revisions []*revision.Revision, schedule Schedule) ExpireResult {
	mutatedSet := make(map[*revision.Revision]struct{})

	for _, rule := range schedule {
		if strings.HasPrefix(rule.Tag, manualPrefix) {
			continue
		}
		bearers := make([]*revision.Revision, 0)
		for _, r := range revisions {
			if r.HasTag(rule.Tag) {
				bearers = append(bearers, r)
			}
		}
		sort.Slice(bearers, func(i, j int) bool { return bearers[i].Timestamp.After(bearers[j].Timestamp) })

		keep := rule.Keep
		if keep < 0 {
			keep = 0
		}
		for i, r := range bearers {
			if i >= keep {
				r.RemoveTag(rule.Tag)
				mutatedSet[r] = struct{}{}
			}
		}
	}

	result := ExpireResult{}
	for r := range mutatedSet {
		if len(r.Tags) == 0 {
			result.Forgotten = append(result.Forgotten, r)
		} else {
			result.Mutated = append(result.Mutated, r)
		}
	}
	return result
}
