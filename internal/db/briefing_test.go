package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/marcus/savecontext/internal/models"
)

func saveCategorized(t *testing.T, db *DB, sessionID, key, value string, c models.Category, p models.ItemPriority) {
	t.Helper()
	_, err := db.SaveItem(SaveItemInput{SessionID: sessionID, Key: key, Value: value, Category: c, Priority: p, Actor: "tester"})
	if err != nil {
		t.Fatalf("SaveItem(%s) failed: %v", key, err)
	}
}

func TestItemStats(t *testing.T) {
	db := newTestDB(t)
	sess := createTestSession(t, db, "S1")

	empty, err := db.ItemStats(sess.ID)
	if err != nil {
		t.Fatalf("ItemStats failed: %v", err)
	}
	if empty.Total != 0 || len(empty.ByCategory) != 4 {
		t.Errorf("empty stats = %+v, want zero counts for all four categories", empty)
	}

	saveCategorized(t, db, sess.ID, "a", "1", models.CategoryDecision, models.ItemPriorityHigh)
	saveCategorized(t, db, sess.ID, "b", "22", models.CategoryDecision, models.ItemPriorityNormal)
	saveCategorized(t, db, sess.ID, "c", "333", models.CategoryReminder, models.ItemPriorityHigh)

	stats, err := db.ItemStats(sess.ID)
	if err != nil {
		t.Fatalf("ItemStats failed: %v", err)
	}
	if stats.Total != 3 || stats.HighPriority != 2 {
		t.Errorf("total/high = %d/%d, want 3/2", stats.Total, stats.HighPriority)
	}
	if stats.ByCategory[models.CategoryDecision] != 2 || stats.ByCategory[models.CategoryReminder] != 1 ||
		stats.ByCategory[models.CategoryNote] != 0 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if stats.TotalSize != 2+3+4 {
		t.Errorf("total size = %d, want 9", stats.TotalSize)
	}

	if _, err := db.ItemStats("sess_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for a missing session, got %v", err)
	}
}

func TestCompact(t *testing.T) {
	db := newTestDB(t)
	db.now = tickingClock()
	sess := createTestSession(t, db, "S1")
	for _, k := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"} {
		saveCategorized(t, db, sess.ID, k, "pending "+k, models.CategoryReminder, models.ItemPriorityNormal)
	}
	saveCategorized(t, db, sess.ID, "shipped", "Done with the parser", models.CategoryReminder, models.ItemPriorityNormal)
	saveCategorized(t, db, sess.ID, "auth", "use jwt", models.CategoryDecision, models.ItemPriorityHigh)
	saveCategorized(t, db, sess.ID, "step", "schema migrated", models.CategoryProgress, models.ItemPriorityNormal)

	res, err := db.Compact(CompactInput{SessionID: sess.ID, GitBranch: "main", Actor: "tester"})
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if !strings.HasPrefix(res.Checkpoint.Name, "pre-compact-2026") {
		t.Errorf("checkpoint name = %q", res.Checkpoint.Name)
	}
	if res.Checkpoint.ItemCount != 10 || res.Checkpoint.GitBranch != "main" {
		t.Errorf("checkpoint = %+v, want all 10 items on main", res.Checkpoint)
	}
	if res.PendingCount != 5 || len(res.Summary.NextSteps) != 5 {
		t.Errorf("next steps = %d, want 5", len(res.Summary.NextSteps))
	}
	for _, it := range res.Summary.NextSteps {
		if it.Key == "shipped" {
			t.Error("a finished reminder should not be a next step")
		}
	}
	if res.CriticalCount != 1 || res.DecisionCount != 1 || len(res.Summary.Progress) != 1 {
		t.Errorf("critical/decisions/progress = %d/%d/%d, want 1/1/1",
			res.CriticalCount, res.DecisionCount, len(res.Summary.Progress))
	}

	if _, err := db.Compact(CompactInput{SessionID: "sess_missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPrime(t *testing.T) {
	db := newTestDB(t)
	sess := createTestSession(t, db, "S1")
	saveCategorized(t, db, sess.ID, "auth", "use jwt", models.CategoryDecision, models.ItemPriorityHigh)
	saveCategorized(t, db, sess.ID, "next", "add tests", models.CategoryReminder, models.ItemPriorityNormal)

	working := createTestIssue(t, db, "working", "")
	inProgress := models.StatusInProgress
	if _, err := db.UpdateIssue(working.ID, IssueUpdate{Status: &inProgress}, "tester"); err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	ready := createTestIssue(t, db, "ready", "")
	if _, err := db.SetMemory("/repo", "test-cmd", "go test ./...", models.MemoryCommand, "tester"); err != nil {
		t.Fatalf("SetMemory failed: %v", err)
	}

	p, err := db.Prime("/repo", sess.ID)
	if err != nil {
		t.Fatalf("Prime failed: %v", err)
	}
	if p.Session == nil || p.Session.ID != sess.ID || p.Stats.Total != 2 {
		t.Errorf("session section = %+v / %+v", p.Session, p.Stats)
	}
	if len(p.HighItems) != 1 || len(p.Decisions) != 1 || len(p.Reminders) != 1 {
		t.Errorf("high/decisions/reminders = %d/%d/%d, want 1/1/1", len(p.HighItems), len(p.Decisions), len(p.Reminders))
	}
	if len(p.InProgress) != 1 || p.InProgress[0].ID != working.ID {
		t.Errorf("in progress = %+v", p.InProgress)
	}
	if len(p.Ready) != 1 || p.Ready[0].ID != ready.ID {
		t.Errorf("ready = %+v", p.Ready)
	}
	if p.OpenIssues != 2 || len(p.Memory) != 1 {
		t.Errorf("open issues/memory = %d/%d, want 2/1", p.OpenIssues, len(p.Memory))
	}

	noSession, err := db.Prime("/repo", "")
	if err != nil {
		t.Fatalf("Prime without session failed: %v", err)
	}
	if noSession.Session != nil || noSession.Stats != nil || len(noSession.Ready) != 1 {
		t.Errorf("primer without session = %+v", noSession)
	}

	events, err := db.ListEvents(EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	before := len(events)
	if _, err := db.Prime("/repo", sess.ID); err != nil {
		t.Fatal(err)
	}
	after, _ := db.ListEvents(EventFilter{})
	if len(after) != before {
		t.Error("Prime must not write")
	}

	if _, err := db.Prime("", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty project, got %v", err)
	}
}
