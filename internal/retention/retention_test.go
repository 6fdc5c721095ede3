package retention

import (
	"testing"
	"time"

	"backy/internal/revision"
)

func rev(t *testing.T, age time.Duration, tags ...string) *revision.Revision {
	t.Helper()
	r, err := revision.New()
	if err != nil {
		t.Fatalf("revision.New: %v", err)
	}
	r.Timestamp = time.Now().UTC().Add(-age)
	r.Tags = append([]string{}, tags...)
	return r
}

func TestDueTagsImmediateWhenNoRevision(t *testing.T) {
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 3}}
	now := time.Now().UTC()
	due := schedule.DueTags(nil, now)
	if len(due) != 1 || due[0] != "daily" {
		t.Fatalf("expected daily due immediately with no revisions, got %v", due)
	}
}

func TestDueTagsRespectsInterval(t *testing.T) {
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 3}}
	revisions := []*revision.Revision{rev(t, time.Hour, "daily")}

	due := schedule.DueTags(revisions, time.Now().UTC())
	if len(due) != 0 {
		t.Fatalf("expected no due tags 1h after a daily revision, got %v", due)
	}

	due = schedule.DueTags(revisions, time.Now().UTC().Add(24*time.Hour))
	if len(due) != 1 {
		t.Fatalf("expected daily due after interval elapses, got %v", due)
	}
}

func TestNextDuePicksEarliest(t *testing.T) {
	schedule := Schedule{
		{Tag: "weekly", Interval: 7 * 24 * time.Hour, Keep: 2},
		{Tag: "daily", Interval: 24 * time.Hour, Keep: 3},
	}
	revisions := []*revision.Revision{
		rev(t, time.Hour, "daily", "weekly"),
	}
	tag, at, ok := schedule.NextDue(revisions)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if tag != "daily" {
		t.Fatalf("expected daily to be next due (shorter interval), got %s at %v", tag, at)
	}
}

func TestOverdueRequires1point5xInterval(t *testing.T) {
	rule := Rule{Tag: "daily", Interval: 24 * time.Hour, Keep: 3}
	schedule := Schedule{rule}
	revisions := []*revision.Revision{rev(t, 30*time.Hour, "daily")}

	now := time.Now().UTC()
	if schedule.Overdue(rule, revisions, now) {
		t.Fatalf("30h after a daily revision should not yet be overdue (1.5x24h=36h)")
	}

	revisions = []*revision.Revision{rev(t, 37*time.Hour, "daily")}
	if !schedule.Overdue(rule, revisions, now) {
		t.Fatalf("37h after a daily revision should be overdue")
	}
}

func TestSLAMonotonicity(t *testing.T) {
	// Property 7: a job is not overdue within 1.5*interval of its newest
	// completed revision for its smallest-interval tag.
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 3}}
	revisions := []*revision.Revision{rev(t, 35*time.Hour, "daily")}
	now := time.Now().UTC()
	if schedule.SLAViolating(revisions, now, false) {
		t.Fatalf("expected not SLA-violating within 1.5x interval")
	}
}

func TestSLARunningJobNeverViolating(t *testing.T) {
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 1}}
	revisions := []*revision.Revision{rev(t, 100*time.Hour, "daily")}
	now := time.Now().UTC()
	if schedule.SLAViolating(revisions, now, true) {
		t.Fatalf("a running job must never be reported SLA-violating")
	}
	if !schedule.SLAViolating(revisions, now, false) {
		t.Fatalf("expected SLA-violating when not running and badly overdue")
	}
}

func TestExpireRespectsKeep(t *testing.T) {
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 3}}
	var revisions []*revision.Revision
	for i := 0; i < 5; i++ {
		revisions = append(revisions, rev(t, time.Duration(i)*24*time.Hour, "daily"))
	}

	result := Expire(revisions, schedule)

	remainingDaily := 0
	for _, r := range revisions {
		if r.HasTag("daily") {
			remainingDaily++
		}
	}
	if remainingDaily != 3 {
		t.Fatalf("expected exactly 3 revisions to retain the daily tag, got %d", remainingDaily)
	}
	if len(result.Forgotten) != 2 {
		t.Fatalf("expected 2 revisions forgotten (tag set emptied), got %d", len(result.Forgotten))
	}
}

func TestExpireNeverTouchesManualTags(t *testing.T) {
	r := rev(t, 100*24*time.Hour, "manual:keep-forever")
	schedule := Schedule{{Tag: "daily", Interval: 24 * time.Hour, Keep: 1}}

	result := Expire([]*revision.Revision{r}, schedule)
	if !r.HasTag("manual:keep-forever") {
		t.Fatalf("manual: tag must never be removed by schedule-driven expiry")
	}
	if len(result.Forgotten) != 0 {
		t.Fatalf("expected no revisions forgotten, since the manual tag protects it")
	}
}

func TestExpireKeepsRevisionWithMultipleTagsUntilAllExpire(t *testing.T) {
	schedule := Schedule{
		{Tag: "daily", Interval: 24 * time.Hour, Keep: 1},
		{Tag: "weekly", Interval: 7 * 24 * time.Hour, Keep: 1},
	}
	oldest := rev(t, 10*24*time.Hour, "daily", "weekly")
	newer := rev(t, 0, "daily", "weekly")
	revisions := []*revision.Revision{oldest, newer}

	result := Expire(revisions, schedule)

	// oldest loses "daily" (newer keeps slot 0) but newer also wins the
	// single weekly slot, so oldest loses both tags and is forgotten.
	if len(result.Forgotten) != 1 || result.Forgotten[0] != oldest {
		t.Fatalf("expected oldest revision to be forgotten once every tag expires, got %+v", result)
	}
}
