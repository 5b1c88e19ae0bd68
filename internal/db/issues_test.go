package db

import (
	"errors"
	"testing"

	"github.com/marcus/savecontext/internal/models"
)

func createTestIssue(t *testing.T, db *DB, title, parent string, labels ...string) *models.Issue {
	t.Helper()
	is, err := db.CreateIssue(CreateIssueInput{
		ProjectPath: "/repo",
		Title:       title,
		ParentID:    parent,
		Labels:      labels,
		Actor:       "tester",
	})
	if err != nil {
		t.Fatalf("CreateIssue(%s) failed: %v", title, err)
	}
	return is
}

func intPtr(n int) *int { return &n }

func TestIssueGraphScenario(t *testing.T) {
	db := newTestDB(t)

	a := createTestIssue(t, db, "A", "")
	if a.ShortID != "REPO-1" {
		t.Fatalf("A short id = %s, want REPO-1", a.ShortID)
	}
	b := createTestIssue(t, db, "B", a.ID)
	if b.ShortID != "REPO-1.1" {
		t.Fatalf("B short id = %s, want REPO-1.1", b.ShortID)
	}
	c := createTestIssue(t, db, "C", a.ID)
	if c.ShortID != "REPO-1.2" {
		t.Fatalf("C short id = %s, want REPO-1.2", c.ShortID)
	}

	if err := db.AddDependency(b.ID, c.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	got, _ := db.GetIssue(b.ID)
	if got.Status != models.StatusBlocked {
		t.Fatalf("B status = %s, want blocked", got.Status)
	}

	closed := models.StatusClosed
	if _, err := db.UpdateIssue(c.ID, IssueUpdate{Status: &closed}, "tester"); err != nil {
		t.Fatalf("closing C failed: %v", err)
	}
	got, _ = db.GetIssue(b.ID)
	if got.Status != models.StatusBlocked {
		t.Errorf("B should stay blocked after its blocker closes, got %s", got.Status)
	}
}

func TestChildShortIDAfterSiblingDelete(t *testing.T) {
	db := newTestDB(t)
	parent := createTestIssue(t, db, "parent", "")
	first := createTestIssue(t, db, "first", parent.ID)
	second := createTestIssue(t, db, "second", parent.ID)

	if err := db.DeleteIssue(first.ID, "tester"); err != nil {
		t.Fatalf("DeleteIssue failed: %v", err)
	}
	got, err := db.GetIssue(second.ID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got.ShortID != parent.ShortID+".2" {
		t.Errorf("sibling short id changed to %s", got.ShortID)
	}

	third := createTestIssue(t, db, "third", parent.ID)
	if third.ShortID != parent.ShortID+".3" {
		t.Errorf("new child short id = %s, want %s.3", third.ShortID, parent.ShortID)
	}

	grandchild := createTestIssue(t, db, "grandchild", third.ShortID)
	if grandchild.ShortID != third.ShortID+".1" {
		t.Errorf("grandchild short id = %s", grandchild.ShortID)
	}
}

func TestRootShortIDAfterDelete(t *testing.T) {
	db := newTestDB(t)
	createTestIssue(t, db, "one", "")
	two := createTestIssue(t, db, "two", "")
	if err := db.DeleteIssue(two.ShortID, "tester"); err != nil {
		t.Fatalf("DeleteIssue failed: %v", err)
	}
	three := createTestIssue(t, db, "three", "")
	if three.ShortID != "REPO-3" {
		t.Errorf("short id = %s, want REPO-3 (deleted ids are not reused)", three.ShortID)
	}
}

func TestRootShortIDAfterChildren(t *testing.T) {
	db := newTestDB(t)
	a := createTestIssue(t, db, "A", "")
	createTestIssue(t, db, "B", a.ID)
	createTestIssue(t, db, "C", a.ID)

	d := createTestIssue(t, db, "D", "")
	if d.ShortID != "REPO-4" {
		t.Errorf("root after two children = %s, want REPO-4", d.ShortID)
	}
	grandchild := createTestIssue(t, db, "E", d.ID)
	if grandchild.ShortID != "REPO-4.1" {
		t.Errorf("child of D = %s, want REPO-4.1", grandchild.ShortID)
	}
	if f := createTestIssue(t, db, "F", ""); f.ShortID != "REPO-6" {
		t.Errorf("next root = %s, want REPO-6", f.ShortID)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	db := newTestDB(t)

	tests := []struct {
		name string
		in   CreateIssueInput
		want error
	}{
		{"no title", CreateIssueInput{ProjectPath: "/repo"}, ErrValidation},
		{"no project", CreateIssueInput{Title: "t"}, ErrValidation},
		{"bad priority", CreateIssueInput{ProjectPath: "/repo", Title: "t", Priority: intPtr(9)}, ErrValidation},
		{"bad type", CreateIssueInput{ProjectPath: "/repo", Title: "t", Type: "story"}, ErrValidation},
		{"bad status", CreateIssueInput{ProjectPath: "/repo", Title: "t", Status: "done"}, ErrValidation},
		{"missing parent", CreateIssueInput{ProjectPath: "/repo", Title: "t", ParentID: "REPO-99"}, ErrNotFound},
		{"missing plan", CreateIssueInput{ProjectPath: "/repo", Title: "t", PlanID: "plan_missing"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.CreateIssue(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateIssueWithDependencies(t *testing.T) {
	db := newTestDB(t)
	blocker := createTestIssue(t, db, "blocker", "")

	is, err := db.CreateIssue(CreateIssueInput{
		ProjectPath: "/repo",
		Title:       "dependent",
		DependsOn:   []DependencySpec{{ID: blocker.ShortID}},
		Labels:      []string{"Backend", "backend", "api"},
	})
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if is.Status != models.StatusBlocked {
		t.Errorf("status = %s, want blocked", is.Status)
	}
	if len(is.Labels) != 2 || is.Labels[0] != "api" || is.Labels[1] != "backend" {
		t.Errorf("labels = %v, want [api backend]", is.Labels)
	}

	deps, err := db.Dependencies(is.ID)
	if err != nil {
		t.Fatalf("Dependencies failed: %v", err)
	}
	if len(deps) != 1 || deps[0].DependsOnID != blocker.ID || deps[0].Type != models.DepBlocks {
		t.Errorf("unexpected dependencies: %+v", deps)
	}
	dependents, _ := db.Dependents(blocker.ID)
	if len(dependents) != 1 || dependents[0].IssueID != is.ID {
		t.Errorf("unexpected dependents: %+v", dependents)
	}
}

func TestDependencyRules(t *testing.T) {
	db := newTestDB(t)
	a := createTestIssue(t, db, "A", "")
	b := createTestIssue(t, db, "B", "")
	c := createTestIssue(t, db, "C", "")

	if err := db.AddDependency(a.ID, a.ID, models.DepBlocks, "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("self edge: expected ErrValidation, got %v", err)
	}
	if err := db.AddDependency(a.ID, "REPO-404", models.DepBlocks, "tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown target: expected ErrNotFound, got %v", err)
	}

	// a -> b -> c; c -> a closes a cycle
	if err := db.AddDependency(a.ID, b.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency a->b failed: %v", err)
	}
	if err := db.AddDependency(b.ID, c.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency b->c failed: %v", err)
	}
	if err := db.AddDependency(c.ID, a.ID, models.DepBlocks, "tester"); !errors.Is(err, ErrConflict) {
		t.Errorf("blocks cycle: expected ErrConflict, got %v", err)
	}

	// re-adding the same edge is a no-op; another type on the pair conflicts
	if err := db.AddDependency(a.ID, b.ID, models.DepBlocks, "tester"); err != nil {
		t.Errorf("re-add same edge failed: %v", err)
	}
	if err := db.AddDependency(a.ID, b.ID, models.DepRelated, "tester"); !errors.Is(err, ErrConflict) {
		t.Errorf("different type on same pair: expected ErrConflict, got %v", err)
	}

	if err := db.RemoveDependency(a.ID, b.ID, "tester"); err != nil {
		t.Fatalf("RemoveDependency failed: %v", err)
	}
	got, _ := db.GetIssue(a.ID)
	if got.Status != models.StatusBlocked {
		t.Errorf("removing a dependency must not unblock, got %s", got.Status)
	}
	if err := db.RemoveDependency(a.ID, b.ID, "tester"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestBlockedCascadeSkipsClosed(t *testing.T) {
	db := newTestDB(t)
	closed := models.StatusClosed

	done, _ := db.CreateIssue(CreateIssueInput{ProjectPath: "/repo", Title: "done", Status: closed})
	blocker := createTestIssue(t, db, "open blocker", "")
	if err := db.AddDependency(done.ID, blocker.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	got, _ := db.GetIssue(done.ID)
	if got.Status != models.StatusClosed {
		t.Errorf("closed dependent should stay closed, got %s", got.Status)
	}

	free := createTestIssue(t, db, "free", "")
	if err := db.AddDependency(free.ID, done.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	got, _ = db.GetIssue(free.ID)
	if got.Status != models.StatusOpen {
		t.Errorf("depending on a closed issue should not block, got %s", got.Status)
	}
}

func TestParentRules(t *testing.T) {
	db := newTestDB(t)
	p1 := createTestIssue(t, db, "p1", "")
	p2 := createTestIssue(t, db, "p2", "")
	child := createTestIssue(t, db, "child", p1.ID)

	if err := db.AddDependency(child.ID, p2.ID, models.DepParentChild, "tester"); !errors.Is(err, ErrConflict) {
		t.Errorf("second parent: expected ErrConflict, got %v", err)
	}
	if err := db.AddDependency(p1.ID, child.ID, models.DepParentChild, "tester"); !errors.Is(err, ErrConflict) {
		t.Errorf("parent cycle: expected ErrConflict, got %v", err)
	}

	parent, err := db.Parent(child.ID)
	if err != nil {
		t.Fatalf("Parent failed: %v", err)
	}
	if parent == nil || parent.ID != p1.ID {
		t.Errorf("parent = %v, want %s", parent, p1.ID)
	}

	// re-parenting keeps the short id
	newParent := p2.ID
	moved, err := db.UpdateIssue(child.ID, IssueUpdate{ParentID: &newParent}, "tester")
	if err != nil {
		t.Fatalf("UpdateIssue(parent) failed: %v", err)
	}
	if moved.ShortID != child.ShortID {
		t.Errorf("short id changed on re-parent: %s -> %s", child.ShortID, moved.ShortID)
	}
	parent, _ = db.Parent(child.ID)
	if parent == nil || parent.ID != p2.ID {
		t.Errorf("parent after move = %v, want %s", parent, p2.ID)
	}

	kids, _ := db.Children(p1.ID)
	if len(kids) != 0 {
		t.Errorf("p1 should have no children, got %d", len(kids))
	}

	elsewhere, err := db.CreateIssue(CreateIssueInput{ProjectPath: "/other", Title: "foreign", Actor: "tester"})
	if err != nil {
		t.Fatalf("CreateIssue(/other) failed: %v", err)
	}
	foreign := elsewhere.ID
	if _, err := db.UpdateIssue(child.ID, IssueUpdate{ParentID: &foreign}, "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("parent from another project: expected ErrValidation, got %v", err)
	}
	parent, _ = db.Parent(child.ID)
	if parent == nil || parent.ID != p2.ID {
		t.Errorf("failed re-parent must keep the old parent, got %v", parent)
	}
}

func TestReadyExcludesUnavailable(t *testing.T) {
	db := newTestDB(t)
	ready := createTestIssue(t, db, "ready", "")
	blocker := createTestIssue(t, db, "blocker", "")
	blocked := createTestIssue(t, db, "blocked", "")
	claimed := createTestIssue(t, db, "claimed", "")
	closedIssue := createTestIssue(t, db, "closed", "")

	if err := db.AddDependency(blocked.ID, blocker.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if _, err := db.ClaimIssue(claimed.ID, "agent-1"); err != nil {
		t.Fatalf("ClaimIssue failed: %v", err)
	}
	closed := models.StatusClosed
	if _, err := db.UpdateIssue(closedIssue.ID, IssueUpdate{Status: &closed}, "tester"); err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}

	issues, err := db.Ready(ReadyOptions{ProjectPath: "/repo"})
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	got := map[string]bool{}
	for _, is := range issues {
		got[is.ID] = true
	}
	if !got[ready.ID] || !got[blocker.ID] {
		t.Errorf("ready and blocker should be ready, got %v", got)
	}
	for _, id := range []string{blocked.ID, claimed.ID, closedIssue.ID} {
		if got[id] {
			t.Errorf("%s should not be ready", id)
		}
	}

	// an open issue whose only blocker is closed is ready again once reopened
	open := models.StatusOpen
	if _, err := db.UpdateIssue(blocker.ID, IssueUpdate{Status: &closed}, "tester"); err != nil {
		t.Fatalf("closing blocker failed: %v", err)
	}
	if _, err := db.UpdateIssue(blocked.ID, IssueUpdate{Status: &open}, "tester"); err != nil {
		t.Fatalf("reopening blocked failed: %v", err)
	}
	issues, _ = db.Ready(ReadyOptions{ProjectPath: "/repo"})
	found := false
	for _, is := range issues {
		if is.ID == blocked.ID {
			found = true
		}
	}
	if !found {
		t.Error("issue with only closed blockers should be ready")
	}
}

func TestReadyLabelsAndPriority(t *testing.T) {
	db := newTestDB(t)
	db.CreateIssue(CreateIssueInput{ProjectPath: "/repo", Title: "low", Priority: intPtr(0), Labels: []string{"ui"}})
	high, _ := db.CreateIssue(CreateIssueInput{ProjectPath: "/repo", Title: "high", Priority: intPtr(4), Labels: []string{"api"}})
	db.CreateIssue(CreateIssueInput{ProjectPath: "/repo", Title: "mid", Priority: intPtr(2)})

	issues, err := db.Ready(ReadyOptions{ProjectPath: "/repo"})
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(issues) != 3 || issues[0].ID != high.ID {
		t.Fatalf("expected highest priority first, got %d issues", len(issues))
	}

	issues, _ = db.Ready(ReadyOptions{ProjectPath: "/repo", Labels: []string{"api", "ui"}})
	if len(issues) != 2 {
		t.Errorf("labels are any-of: expected 2, got %d", len(issues))
	}
	issues, _ = db.Ready(ReadyOptions{ProjectPath: "/repo", PriorityMin: intPtr(3)})
	if len(issues) != 1 || issues[0].ID != high.ID {
		t.Errorf("priority min returned %d issues", len(issues))
	}
}

func TestListIssuesFilters(t *testing.T) {
	db := newTestDB(t)
	epic, _ := db.CreateIssue(CreateIssueInput{ProjectPath: "/repo", Title: "epic", Type: models.TypeEpic})
	createTestIssue(t, db, "child one", epic.ID, "backend", "api")
	createTestIssue(t, db, "child two", epic.ID, "backend")
	done := createTestIssue(t, db, "finished", "")
	closed := models.StatusClosed
	db.UpdateIssue(done.ID, IssueUpdate{Status: &closed}, "tester")

	all, err := db.ListIssues(IssueFilter{ProjectPath: "/repo"})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("default list excludes closed: expected 3, got %d", len(all))
	}
	withClosed, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", Status: StatusAll})
	if len(withClosed) != 4 {
		t.Errorf("status=all: expected 4, got %d", len(withClosed))
	}
	onlyClosed, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", Status: string(models.StatusClosed)})
	if len(onlyClosed) != 1 {
		t.Errorf("status=closed: expected 1, got %d", len(onlyClosed))
	}

	allOf, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", Labels: []string{"backend", "api"}})
	if len(allOf) != 1 {
		t.Errorf("labels all-of: expected 1, got %d", len(allOf))
	}
	anyOf, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", LabelsAny: []string{"api", "backend"}})
	if len(anyOf) != 2 {
		t.Errorf("labels any-of: expected 2, got %d", len(anyOf))
	}
	children, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", ParentID: epic.ShortID})
	if len(children) != 2 {
		t.Errorf("parent filter: expected 2, got %d", len(children))
	}
	epics, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", Type: models.TypeEpic})
	if len(epics) != 1 {
		t.Errorf("type filter: expected 1, got %d", len(epics))
	}
	search, _ := db.ListIssues(IssueFilter{ProjectPath: "/repo", Search: "two"})
	if len(search) != 1 {
		t.Errorf("search: expected 1, got %d", len(search))
	}
	if _, err := db.ListIssues(IssueFilter{SortBy: "random"}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad sort: expected ErrValidation, got %v", err)
	}
}

func TestStatusTimestamps(t *testing.T) {
	db := newTestDB(t)
	is := createTestIssue(t, db, "t", "")

	closed := models.StatusClosed
	got, err := db.UpdateIssue(is.ID, IssueUpdate{Status: &closed}, "closer")
	if err != nil {
		t.Fatalf("UpdateIssue failed: %v", err)
	}
	if got.ClosedAt == nil || got.ClosedBy != "closer" {
		t.Errorf("closing should set closed_at and closed_by: %+v", got)
	}

	deferred := models.StatusDeferred
	got, _ = db.UpdateIssue(is.ID, IssueUpdate{Status: &deferred}, "tester")
	if got.ClosedAt != nil || got.DeferredAt == nil {
		t.Errorf("reopening to deferred: closed_at=%v deferred_at=%v", got.ClosedAt, got.DeferredAt)
	}
}

func TestCloneIssue(t *testing.T) {
	db := newTestDB(t)
	parent := createTestIssue(t, db, "parent", "")
	src := createTestIssue(t, db, "source", parent.ID, "backend")
	if _, err := db.ClaimIssue(src.ID, "agent-1"); err != nil {
		t.Fatalf("ClaimIssue failed: %v", err)
	}

	clone, err := db.CloneIssue(src.ID, CloneOverrides{Actor: "tester"})
	if err != nil {
		t.Fatalf("CloneIssue failed: %v", err)
	}
	if clone.ID == src.ID || clone.ShortID != parent.ShortID+".2" {
		t.Errorf("clone ids: id=%s short=%s", clone.ID, clone.ShortID)
	}
	if clone.Title != "source" || clone.Status != models.StatusOpen || clone.Assignee != "" {
		t.Errorf("unexpected clone: %+v", clone)
	}
	if len(clone.Labels) != 1 || clone.Labels[0] != "backend" {
		t.Errorf("labels not copied: %v", clone.Labels)
	}

	title := "renamed"
	bare, err := db.CloneIssue(src.ID, CloneOverrides{Title: &title, SkipLabels: true, SkipParent: true})
	if err != nil {
		t.Fatalf("CloneIssue (overrides) failed: %v", err)
	}
	if bare.Title != "renamed" || len(bare.Labels) != 0 || bare.ShortID != "REPO-4" {
		t.Errorf("unexpected bare clone: %+v", bare)
	}
}

func TestMarkDuplicate(t *testing.T) {
	db := newTestDB(t)
	orig := createTestIssue(t, db, "original", "")
	dup := createTestIssue(t, db, "duplicate", "")

	got, err := db.MarkDuplicate(dup.ID, orig.ShortID, "tester")
	if err != nil {
		t.Fatalf("MarkDuplicate failed: %v", err)
	}
	if got.Status != models.StatusClosed {
		t.Errorf("duplicate status = %s, want closed", got.Status)
	}
	deps, _ := db.Dependencies(dup.ID)
	if len(deps) != 1 || deps[0].Type != models.DepDuplicateOf || deps[0].DependsOnID != orig.ID {
		t.Errorf("unexpected dependencies: %+v", deps)
	}
}

func TestClaimAndRelease(t *testing.T) {
	db := newTestDB(t)
	is := createTestIssue(t, db, "work", "")

	got, err := db.ClaimIssue(is.ID, "agent-1")
	if err != nil {
		t.Fatalf("ClaimIssue failed: %v", err)
	}
	if got.Assignee != "agent-1" || got.Status != models.StatusInProgress || got.AssignedAt == nil {
		t.Errorf("unexpected claimed issue: %+v", got)
	}
	if _, err := db.ClaimIssue(is.ID, "agent-2"); !errors.Is(err, ErrConflict) {
		t.Errorf("claim by another agent: expected ErrConflict, got %v", err)
	}
	if _, err := db.ReleaseIssue(is.ID, "agent-2"); !errors.Is(err, ErrConflict) {
		t.Errorf("release by another agent: expected ErrConflict, got %v", err)
	}

	got, err = db.ReleaseIssue(is.ID, "agent-1")
	if err != nil {
		t.Fatalf("ReleaseIssue failed: %v", err)
	}
	if got.Assignee != "" || got.Status != models.StatusOpen {
		t.Errorf("unexpected released issue: %+v", got)
	}
	if _, err := db.ReleaseIssue(is.ID, "agent-1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("release unassigned: expected ErrInvalidState, got %v", err)
	}
}

func TestLabels(t *testing.T) {
	db := newTestDB(t)
	is := createTestIssue(t, db, "t", "", "one")

	got, err := db.AddLabels(is.ID, []string{"Two", "one"}, "tester")
	if err != nil {
		t.Fatalf("AddLabels failed: %v", err)
	}
	if len(got.Labels) != 2 {
		t.Errorf("labels = %v", got.Labels)
	}
	got, err = db.RemoveLabels(is.ID, []string{"ONE", "absent"}, "tester")
	if err != nil {
		t.Fatalf("RemoveLabels failed: %v", err)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "two" {
		t.Errorf("labels = %v, want [two]", got.Labels)
	}

	counts, err := db.ProjectLabels("/repo")
	if err != nil {
		t.Fatalf("ProjectLabels failed: %v", err)
	}
	if counts["two"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if _, err := db.AddLabels(is.ID, []string{" "}, "tester"); !errors.Is(err, ErrValidation) {
		t.Errorf("blank labels: expected ErrValidation, got %v", err)
	}
}

func TestTreeBlockedAndProgress(t *testing.T) {
	db := newTestDB(t)
	epic := createTestIssue(t, db, "epic", "")
	a := createTestIssue(t, db, "a", epic.ID)
	b := createTestIssue(t, db, "b", epic.ID)
	createTestIssue(t, db, "a.1", a.ID)

	closed := models.StatusClosed
	db.UpdateIssue(b.ID, IssueUpdate{Status: &closed}, "tester")

	tree, err := db.Tree(epic.ShortID)
	if err != nil {
		t.Fatalf("Tree failed: %v", err)
	}
	if len(tree.Children) != 2 || len(tree.Children[0].Children) != 1 {
		t.Errorf("unexpected tree shape: %+v", tree)
	}

	p, err := db.Progress(epic.ID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if p.Total != 2 || p.Closed != 1 || p.Percent() != 50 {
		t.Errorf("unexpected progress: %+v", p)
	}

	blocker := createTestIssue(t, db, "blocker", "")
	if err := db.AddDependency(a.ID, blocker.ID, models.DepBlocks, "tester"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	blocked, err := db.Blocked("/repo")
	if err != nil {
		t.Fatalf("Blocked failed: %v", err)
	}
	if len(blocked) != 1 || blocked[0].Issue.ID != a.ID || len(blocked[0].Blockers) != 1 {
		t.Errorf("unexpected blocked list: %+v", blocked)
	}
}

func TestShortIDsScopedPerProject(t *testing.T) {
	db := newTestDB(t)
	one, _ := db.CreateIssue(CreateIssueInput{ProjectPath: "/work/app", Title: "x"})
	two, _ := db.CreateIssue(CreateIssueInput{ProjectPath: "/other/app", Title: "y"})
	if one.ShortID != two.ShortID {
		t.Fatalf("expected both projects to start at %s, got %s", one.ShortID, two.ShortID)
	}

	if _, err := db.GetIssue(one.ShortID); !errors.Is(err, ErrConflict) {
		t.Errorf("ambiguous short id: expected ErrConflict, got %v", err)
	}
	got, err := db.GetIssueInProject("/other/app", two.ShortID)
	if err != nil {
		t.Fatalf("GetIssueInProject failed: %v", err)
	}
	if got.ID != two.ID {
		t.Errorf("got %s, want %s", got.ID, two.ID)
	}
}
