package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/savecontext/internal/models"
)

func exportTo(t *testing.T, db *DB, projectPath string) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.ExportJSONL(context.Background(), dir, projectPath); err != nil {
		t.Fatalf("ExportJSONL failed: %v", err)
	}
	return dir
}

func importFrom(t *testing.T, db *DB, dir string, strategy MergeStrategy) *ImportResult {
	t.Helper()
	res, err := db.ImportJSONL(context.Background(), dir, strategy, "tester")
	if err != nil {
		t.Fatalf("ImportJSONL failed: %v", err)
	}
	return res
}

// clockFrom returns a clock that ticks one second per call starting at start
func clockFrom(start time.Time) func() time.Time {
	return func() time.Time {
		start = start.Add(time.Second)
		return start
	}
}

func TestImportRoundTrip(t *testing.T) {
	src := newTestDB(t)
	sess := createTestSession(t, src, "S1")
	saveTestItem(t, src, sess.ID, "plan", "v1", "arch")
	saveTestItem(t, src, sess.ID, "todo", "write tests")
	cp := createTestCheckpoint(t, src, sess.ID, "cp", nil)
	parent := createTestIssue(t, src, "parent", "", "backend")
	child := createTestIssue(t, src, "child", parent.ID)
	blocker := createTestIssue(t, src, "blocker", "")
	if err := src.AddDependency(parent.ID, blocker.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	createTestPlan(t, src, "/repo", "plan")
	if _, err := src.SetMemory("/repo", "test-cmd", "go test ./...", models.MemoryCommand, "tester"); err != nil {
		t.Fatalf("SetMemory failed: %v", err)
	}
	dir := exportTo(t, src, "/repo")

	dst := newTestDB(t)
	res := importFrom(t, dst, dir, "")
	if res.Strategy != PreferNewer {
		t.Errorf("default strategy = %s, want prefer-newer", res.Strategy)
	}
	want := map[string]int{
		ExportSessions:     1,
		ExportItems:        2,
		ExportCheckpoints:  1,
		ExportIssues:       3,
		ExportPlans:        1,
		ExportMemory:       1,
		ImportDependencies: 2,
	}
	for name, n := range want {
		if got := res.Stats[name].Created; got != n {
			t.Errorf("%s created = %d, want %d", name, got, n)
		}
	}

	got, err := dst.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != models.SessionActive || len(got.ProjectPaths) != 1 || got.ProjectPaths[0] != "/repo" {
		t.Errorf("imported session = %+v", got)
	}
	it, err := dst.GetItem(sess.ID, "plan")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if it.Value != "v1" || !it.Tags.Has("arch") {
		t.Errorf("imported item = %+v", it)
	}
	snap, err := dst.CheckpointItems(cp.ID)
	if err != nil {
		t.Fatalf("CheckpointItems failed: %v", err)
	}
	if len(snap) != 2 {
		t.Errorf("checkpoint has %d items, want 2", len(snap))
	}
	p, err := dst.Parent(child.ID)
	if err != nil || p == nil || p.ID != parent.ID {
		t.Errorf("Parent(child) = %v, %v; want %s", p, err, parent.ShortID)
	}
	blocked, err := dst.Dependencies(parent.ID)
	if err != nil {
		t.Fatalf("Dependencies failed: %v", err)
	}
	if len(blocked) != 1 || blocked[0].DependsOnID != blocker.ID {
		t.Errorf("parent dependencies = %+v", blocked)
	}
	imported, err := dst.GetIssue(parent.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if len(imported.Labels) != 1 || imported.Labels[0] != "backend" {
		t.Errorf("labels = %v, want [backend]", imported.Labels)
	}
	if _, err := dst.GetMemory("/repo", "test-cmd"); err != nil {
		t.Errorf("GetMemory failed: %v", err)
	}

	next := createTestIssue(t, dst, "after import", "")
	if next.ShortID != "REPO-4" {
		t.Errorf("first local issue after import = %s, want REPO-4", next.ShortID)
	}

	again := importFrom(t, dst, dir, PreferExternal)
	for name, st := range again.Stats {
		if name == ImportDependencies {
			continue
		}
		if st.Created != 0 || st.Updated != 0 {
			t.Errorf("%s re-import changed rows: %+v", name, st)
		}
	}
}

func TestImportMergeStrategies(t *testing.T) {
	src := newTestDB(t)
	src.now = clockFrom(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sess := createTestSession(t, src, "S1")
	saveTestItem(t, src, sess.ID, "plan", "v1")
	first := exportTo(t, src, "/repo")

	dst := newTestDB(t)
	importFrom(t, dst, first, "")

	v2 := "v2"
	if _, err := src.UpdateItem(sess.ID, "plan", ItemUpdate{Value: &v2}, "tester"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	second := exportTo(t, src, "/repo")

	value := func() string {
		t.Helper()
		it, err := dst.GetItem(sess.ID, "plan")
		if err != nil {
			t.Fatalf("GetItem failed: %v", err)
		}
		return it.Value
	}

	res := importFrom(t, dst, second, PreferLocal)
	if res.Stats[ExportItems].Skipped != 1 || value() != "v1" {
		t.Errorf("prefer-local: stats %+v, value %q", res.Stats[ExportItems], value())
	}

	res = importFrom(t, dst, second, PreferNewer)
	if res.Stats[ExportItems].Updated != 1 || value() != "v2" {
		t.Errorf("prefer-newer with newer external: stats %+v, value %q", res.Stats[ExportItems], value())
	}

	dst.now = clockFrom(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	v3 := "v3"
	if _, err := dst.UpdateItem(sess.ID, "plan", ItemUpdate{Value: &v3}, "tester"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	res = importFrom(t, dst, second, PreferNewer)
	if res.Stats[ExportItems].Skipped != 1 || value() != "v3" {
		t.Errorf("prefer-newer with newer local: stats %+v, value %q", res.Stats[ExportItems], value())
	}

	res = importFrom(t, dst, second, PreferExternal)
	if res.Stats[ExportItems].Updated != 1 || value() != "v2" {
		t.Errorf("prefer-external: stats %+v, value %q", res.Stats[ExportItems], value())
	}
}

func TestImportConflictsAndOrphans(t *testing.T) {
	src := newTestDB(t)
	createTestIssue(t, src, "theirs", "")
	dir := exportTo(t, src, "/repo")

	orphan, err := newExportRecord(EntityItem, "item_orphan", models.ContextItem{
		ID:        "item_orphan",
		SessionID: "sess_missing",
		Key:       "k",
		Value:     "v",
		Category:  models.CategoryNote,
		Priority:  models.ItemPriorityNormal,
	})
	if err != nil {
		t.Fatalf("newExportRecord failed: %v", err)
	}
	if err := writeJSONL(filepath.Join(dir, ExportItems), []ExportRecord{orphan}); err != nil {
		t.Fatalf("writeJSONL failed: %v", err)
	}

	dst := newTestDB(t)
	mine := createTestIssue(t, dst, "mine", "")
	res := importFrom(t, dst, dir, PreferExternal)

	if res.Stats[ExportIssues].Conflicts != 1 || res.Stats[ExportIssues].Created != 0 {
		t.Errorf("issue stats = %+v, want one conflict", res.Stats[ExportIssues])
	}
	if res.Stats[ExportItems].Skipped != 1 {
		t.Errorf("item stats = %+v, want the orphan skipped", res.Stats[ExportItems])
	}
	got, err := dst.GetIssueInProject("/repo", "REPO-1")
	if err != nil {
		t.Fatalf("GetIssueInProject failed: %v", err)
	}
	if got.ID != mine.ID || got.Title != "mine" {
		t.Errorf("local REPO-1 was replaced: %+v", got)
	}
}

func TestImportRejectsTamperedRecord(t *testing.T) {
	dir := t.TempDir()
	rec := ExportRecord{Type: EntitySession, ID: "sess_x", ContentHash: "00", Data: []byte(`{"id":"sess_x"}`)}
	if err := writeJSONL(filepath.Join(dir, ExportSessions), []ExportRecord{rec}); err != nil {
		t.Fatalf("writeJSONL failed: %v", err)
	}
	db := newTestDB(t)
	_, err := db.ImportJSONL(context.Background(), dir, "", "tester")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestImportKeepsOneActiveSessionPerProject(t *testing.T) {
	src := newTestDB(t)
	theirs := createTestSession(t, src, "theirs")
	dir := exportTo(t, src, "/repo")

	dst := newTestDB(t)
	mine := createTestSession(t, dst, "mine")
	importFrom(t, dst, dir, "")

	got, err := dst.GetSession(theirs.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != models.SessionPaused {
		t.Errorf("imported session status = %s, want paused", got.Status)
	}
	local, err := dst.GetSession(mine.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if local.Status != models.SessionActive {
		t.Errorf("local session status = %s, want active", local.Status)
	}
}

func TestImportInputValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.ImportJSONL(ctx, "", "", "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty dir: expected validation error, got %v", err)
	}
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := db.ImportJSONL(ctx, missing, "", "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("missing dir: expected validation error, got %v", err)
	}
	if _, err := db.ImportJSONL(ctx, t.TempDir(), "newest", "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("bad strategy: expected validation error, got %v", err)
	}

	empty := t.TempDir()
	if err := os.WriteFile(filepath.Join(empty, "unrelated.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := db.ImportJSONL(ctx, empty, PreferLocal, "tester")
	if err != nil {
		t.Fatalf("import of a dir without export files failed: %v", err)
	}
	for name, st := range res.Stats {
		if *st != (EntityStats{}) {
			t.Errorf("%s stats = %+v, want zero", name, st)
		}
	}
}

func TestParseMergeStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeStrategy
		wantErr bool
	}{
		{"", PreferNewer, false},
		{"prefer-local", PreferLocal, false},
		{" prefer-external ", PreferExternal, false},
		{"prefer-newer", PreferNewer, false},
		{"theirs", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMergeStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMergeStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMergeStrategy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
