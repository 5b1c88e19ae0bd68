package db

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

// MergeStrategy decides which side wins when an imported record differs
// from the local row with the same identity
type MergeStrategy string

const (
	PreferNewer    MergeStrategy = "prefer-newer"
	PreferLocal    MergeStrategy = "prefer-local"
	PreferExternal MergeStrategy = "prefer-external"
)

// ImportDependencies keys the dependency edge counts of an ImportResult
const ImportDependencies = "dependencies"

// ParseMergeStrategy accepts the strategy names; empty means prefer-newer
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch st := MergeStrategy(strings.TrimSpace(s)); st {
	case "":
		return PreferNewer, nil
	case PreferNewer, PreferLocal, PreferExternal:
		return st, nil
	}
	return "", validationErr("import", "unknown merge strategy %q (want prefer-newer, prefer-local or prefer-external)", s)
}

// EntityStats counts the outcome of every record of one export file
type EntityStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// ImportResult reports per-file outcomes of ImportJSONL
type ImportResult struct {
	Dir      string                  `json:"dir"`
	Strategy MergeStrategy           `json:"strategy"`
	Stats    map[string]*EntityStats `json:"stats"`
}

// importOrder lists export files so that every record's parents are
// imported before it
var importOrder = []string{ExportSessions, ExportPlans, ExportIssues, ExportItems, ExportCheckpoints, ExportMemory}

// readJSONL loads and verifies the records of one export file. A missing
// file yields no records.
func readJSONL(path string) ([]ExportRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []ExportRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var r ExportRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, validationErr("import", "%s line %d: %v", filepath.Base(path), line, err)
		}
		if r.ContentHash != contentHash(r.Data) {
			return nil, validationErr("import", "%s line %d: content hash mismatch for %s", filepath.Base(path), line, r.ID)
		}
		records = append(records, r)
	}
	return records, sc.Err()
}

// ImportJSONL merges the export files found in dir into the database in a
// single transaction. Records are matched by id (memory by project and key);
// a differing local row is kept or replaced according to strategy. Records
// whose parent session is missing are skipped, and records that would take a
// short id or key already owned by another row count as conflicts.
func (db *DB) ImportJSONL(ctx context.Context, dir string, strategy MergeStrategy, actor string) (*ImportResult, error) {
	const op = "import"
	if dir == "" {
		return nil, validationErr(op, "input directory is required")
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, validationErr(op, "%s is not a directory", dir)
	}
	if strategy == "" {
		strategy = PreferNewer
	}
	if _, err := ParseMergeStrategy(string(strategy)); err != nil {
		return nil, err
	}

	files := make(map[string][]ExportRecord, len(importOrder))
	for _, name := range importOrder {
		records, err := readJSONL(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		files[name] = records
	}

	result := &ImportResult{Dir: dir, Strategy: strategy, Stats: make(map[string]*EntityStats)}
	for _, name := range importOrder {
		result.Stats[name] = &EntityStats{}
	}
	result.Stats[ImportDependencies] = &EntityStats{}

	err := db.mutate(op, actor, func(m *mutation) error {
		im := &importer{m: m, strategy: strategy, projects: make(map[string]bool)}
		steps := []struct {
			name string
			fn   func(ExportRecord, *EntityStats) error
		}{
			{ExportSessions, im.session},
			{ExportPlans, im.plan},
			{ExportIssues, im.issue},
			{ExportItems, im.item},
			{ExportCheckpoints, im.checkpoint},
			{ExportMemory, im.memory},
		}
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, r := range files[step.name] {
				if err := step.fn(r, result.Stats[step.name]); err != nil {
					return fmt.Errorf("%s %s: %w", step.name, r.ID, err)
				}
			}
			if step.name == ExportIssues {
				if err := im.edges(result.Stats[ImportDependencies]); err != nil {
					return err
				}
			}
		}
		return im.bumpCounters()
	})
	if err != nil {
		return nil, err
	}
	db.logger.Info("import complete", "dir", dir, "strategy", strategy)
	return result, nil
}

// importer applies records inside one import mutation
type importer struct {
	m        *mutation
	strategy MergeStrategy
	pending  []models.Dependency
	projects map[string]bool
}

// wins reports whether the external record replaces the local one,
// counting the record as skipped when it does not
func (im *importer) wins(st *EntityStats, local any, extHash string, localTime, extTime time.Time) (bool, error) {
	data, err := json.Marshal(local)
	if err != nil {
		return false, err
	}
	if contentHash(data) == extHash {
		st.Skipped++
		return false, nil
	}
	switch im.strategy {
	case PreferExternal:
		return true, nil
	case PreferNewer:
		if extTime.After(localTime) {
			return true, nil
		}
	}
	st.Skipped++
	return false, nil
}

func (im *importer) touch(path string) error {
	if im.projects[path] {
		return nil
	}
	if _, err := ensureProject(im.m, path); err != nil {
		return err
	}
	im.projects[path] = true
	return nil
}

func (im *importer) session(r ExportRecord, st *EntityStats) error {
	var s models.Session
	if err := json.Unmarshal(r.Data, &s); err != nil {
		return validationErr(im.m.op, "decode session: %v", err)
	}
	if s.ID == "" || !models.IsValidSessionStatus(s.Status) {
		return validationErr(im.m.op, "session %q has no id or an invalid status", s.ID)
	}
	s.ProjectPaths = normalizePaths(s.ProjectPaths)

	local, err := getSession(im.m.tx, s.ID)
	event := EventCreated
	switch {
	case err == nil:
		ok, err := im.wins(st, local, r.ContentHash, local.UpdatedAt, s.UpdatedAt)
		if err != nil || !ok {
			return err
		}
		event = EventUpdated
	case !isNotFound(err):
		return err
	}

	if s.Status == models.SessionActive {
		others, err := activeOverlapping(im.m.tx, &s)
		if err != nil {
			return err
		}
		if len(others) > 0 {
			s.Status = models.SessionPaused
		}
	}
	_, err = im.m.tx.Exec(`INSERT INTO sessions (id, name, description, status, channel, created_at, updated_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
			status = excluded.status, channel = excluded.channel, created_at = excluded.created_at,
			updated_at = excluded.updated_at, ended_at = excluded.ended_at`,
		s.ID, s.Name, s.Description, s.Status, s.Channel, toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
		nullMillis(s.EndedAt))
	if err != nil {
		return err
	}
	if _, err := im.m.tx.Exec(`DELETE FROM session_projects WHERE session_id = ?`, s.ID); err != nil {
		return err
	}
	for i, p := range s.ProjectPaths {
		if err := im.touch(p); err != nil {
			return err
		}
		if _, err := im.m.tx.Exec(`INSERT INTO session_projects (session_id, project_path, added_at) VALUES (?, ?, ?)`,
			s.ID, p, toMillis(s.CreatedAt)+int64(i)); err != nil {
			return err
		}
	}
	tally(st, event)
	im.m.record(EntitySession, s.ID, event, "", snapshot(&s))
	return nil
}

func (im *importer) plan(r ExportRecord, st *EntityStats) error {
	var p models.Plan
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return validationErr(im.m.op, "decode plan: %v", err)
	}
	if p.ID == "" || p.ShortID == "" || !models.IsValidPlanStatus(p.Status) {
		return validationErr(im.m.op, "plan %q has no id, no short id or an invalid status", p.ID)
	}
	p.ProjectPath = workdir.NormalizePath(p.ProjectPath)

	local, err := scanPlan(im.m.tx.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, p.ID))
	event := EventCreated
	switch {
	case err == nil:
		ok, err := im.wins(st, local, r.ContentHash, local.UpdatedAt, p.UpdatedAt)
		if err != nil || !ok {
			return err
		}
		event = EventUpdated
	case err != sql.ErrNoRows:
		return err
	}
	if taken, err := im.owned(`SELECT COUNT(*) FROM plans WHERE project_path = ? AND short_id = ? AND id != ?`,
		p.ProjectPath, p.ShortID, p.ID); err != nil || taken {
		if taken {
			st.Conflicts++
		}
		return err
	}

	if err := im.touch(p.ProjectPath); err != nil {
		return err
	}
	_, err = im.m.tx.Exec(`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET short_id = excluded.short_id, project_path = excluded.project_path,
			title = excluded.title, content = excluded.content, status = excluded.status,
			success_criteria = excluded.success_criteria, created_at = excluded.created_at,
			updated_at = excluded.updated_at, completed_at = excluded.completed_at`,
		p.ID, p.ShortID, p.ProjectPath, p.Title, p.Content, p.Status, p.SuccessCriteria,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt), nullMillis(p.CompletedAt))
	if err != nil {
		return err
	}
	tally(st, event)
	im.m.record(EntityPlan, p.ID, event, "", snapshot(&p))
	return nil
}

func (im *importer) issue(r ExportRecord, st *EntityStats) error {
	var rec issueExport
	if err := json.Unmarshal(r.Data, &rec); err != nil {
		return validationErr(im.m.op, "decode issue: %v", err)
	}
	is := rec.Issue
	if is.ID == "" || is.ShortID == "" || !models.IsValidStatus(is.Status) || !models.IsValidType(is.Type) ||
		!models.IsValidPriority(is.Priority) {
		return validationErr(im.m.op, "issue %q has no id, no short id or an invalid status, type or priority", is.ID)
	}
	is.ProjectPath = workdir.NormalizePath(is.ProjectPath)

	local, err := loadIssue(im.m.tx, is.ID)
	event := EventCreated
	switch {
	case err == nil:
		localRec, err := issueRecord(im.m.tx, *local)
		if err != nil {
			return err
		}
		ok, err := im.wins(st, localRec, r.ContentHash, local.UpdatedAt, is.UpdatedAt)
		if err != nil || !ok {
			return err
		}
		event = EventUpdated
	case !isNotFound(err):
		return err
	}
	if taken, err := im.owned(`SELECT COUNT(*) FROM issues WHERE project_path = ? AND short_id = ? AND id != ?`,
		is.ProjectPath, is.ShortID, is.ID); err != nil || taken {
		if taken {
			st.Conflicts++
		}
		return err
	}
	if is.PlanID != "" {
		if err := planExists(im.m.tx, im.m.op, is.PlanID); isNotFound(err) {
			is.PlanID = ""
		} else if err != nil {
			return err
		}
	}

	if err := im.touch(is.ProjectPath); err != nil {
		return err
	}
	_, err = im.m.tx.Exec(`INSERT INTO issues (id, short_id, project_path, plan_id, title, description, details, status,
		priority, issue_type, created_by, closed_by, assigned_to, session_id, created_at, updated_at,
		assigned_at, closed_at, deferred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET short_id = excluded.short_id, project_path = excluded.project_path,
			plan_id = excluded.plan_id, title = excluded.title, description = excluded.description,
			details = excluded.details, status = excluded.status, priority = excluded.priority,
			issue_type = excluded.issue_type, created_by = excluded.created_by, closed_by = excluded.closed_by,
			assigned_to = excluded.assigned_to, session_id = excluded.session_id, created_at = excluded.created_at,
			updated_at = excluded.updated_at, assigned_at = excluded.assigned_at, closed_at = excluded.closed_at,
			deferred_at = excluded.deferred_at`,
		is.ID, is.ShortID, is.ProjectPath, nullString(is.PlanID), is.Title, is.Description, is.Details, is.Status,
		is.Priority, is.Type, is.CreatedBy, is.ClosedBy, nullString(is.Assignee), is.SessionID,
		toMillis(is.CreatedAt), toMillis(is.UpdatedAt), nullMillis(is.AssignedAt), nullMillis(is.ClosedAt),
		nullMillis(is.DeferredAt))
	if err != nil {
		return err
	}
	if _, err := im.m.tx.Exec(`DELETE FROM issue_labels WHERE issue_id = ?`, is.ID); err != nil {
		return err
	}
	if _, err := addLabels(im.m, is.ID, is.Labels); err != nil {
		return err
	}
	if _, err := im.m.tx.Exec(`DELETE FROM issue_dependencies WHERE issue_id = ?`, is.ID); err != nil {
		return err
	}
	for _, d := range rec.Dependencies {
		d.IssueID = is.ID
		im.pending = append(im.pending, d)
	}
	tally(st, event)
	im.m.record(EntityIssue, is.ID, event, "", snapshot(&is))
	return nil
}

// edges recreates the dependency edges of imported issues once every issue
// is present. Edges to unknown issues are skipped; edges that would add a
// cycle or a second parent count as conflicts.
func (im *importer) edges(st *EntityStats) error {
	for _, d := range im.pending {
		if !models.IsValidDependencyType(d.Type) {
			st.Skipped++
			continue
		}
		var n int
		if err := im.m.tx.QueryRow(`SELECT COUNT(*) FROM issues WHERE id IN (?, ?)`, d.IssueID, d.DependsOnID).Scan(&n); err != nil {
			return err
		}
		if n != 2 || d.IssueID == d.DependsOnID {
			st.Skipped++
			continue
		}
		switch d.Type {
		case models.DepParentChild:
			var parents int
			if err := im.m.tx.QueryRow(`SELECT COUNT(*) FROM issue_dependencies WHERE issue_id = ? AND dependency_type = ?`,
				d.IssueID, models.DepParentChild).Scan(&parents); err != nil {
				return err
			}
			if parents > 0 {
				st.Conflicts++
				continue
			}
			fallthrough
		case models.DepBlocks:
			cycle, err := reaches(im.m.tx, d.DependsOnID, d.IssueID, d.Type)
			if err != nil {
				return err
			}
			if cycle {
				st.Conflicts++
				continue
			}
		}
		created := d.CreatedAt
		if created.IsZero() {
			created = im.m.now
		}
		res, err := im.m.tx.Exec(`INSERT OR IGNORE INTO issue_dependencies (issue_id, depends_on_id, dependency_type, created_at)
			VALUES (?, ?, ?, ?)`, d.IssueID, d.DependsOnID, d.Type, toMillis(created))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			st.Skipped++
			continue
		}
		st.Created++
	}
	return nil
}

func (im *importer) item(r ExportRecord, st *EntityStats) error {
	var it models.ContextItem
	if err := json.Unmarshal(r.Data, &it); err != nil {
		return validationErr(im.m.op, "decode context item: %v", err)
	}
	key, err := itemKey(im.m.op, it.Key)
	if err != nil {
		return err
	}
	it.Key = key
	if it.ID == "" {
		return validationErr(im.m.op, "context item %q has no id", it.Key)
	}
	if err := validateItemEnums(im.m.op, it.Category, it.Priority); err != nil {
		return err
	}
	if err := sessionExists(im.m.tx, im.m.op, it.SessionID); isNotFound(err) {
		st.Skipped++
		return nil
	} else if err != nil {
		return err
	}
	if it.Channel == "" {
		it.Channel = models.DefaultChannel
	}
	it.Size = models.ItemSize(it.Key, it.Value)

	local, err := scanItem(im.m.tx.QueryRow(`SELECT `+itemColumns+` FROM context_items WHERE id = ?`, it.ID))
	event := EventCreated
	switch {
	case err == nil:
		ok, err := im.wins(st, local, r.ContentHash, local.UpdatedAt, it.UpdatedAt)
		if err != nil || !ok {
			return err
		}
		event = EventUpdated
	case err != sql.ErrNoRows:
		return err
	}
	if taken, err := im.owned(`SELECT COUNT(*) FROM context_items WHERE session_id = ? AND key = ? AND id != ?`,
		it.SessionID, it.Key, it.ID); err != nil || taken {
		if taken {
			st.Conflicts++
		}
		return err
	}

	_, err = im.m.tx.Exec(`INSERT INTO context_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, key = excluded.key, value = excluded.value,
			category = excluded.category, priority = excluded.priority, channel = excluded.channel,
			tags = excluded.tags, size = excluded.size, created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		it.ID, it.SessionID, it.Key, it.Value, it.Category, it.Priority, it.Channel, it.Tags, it.Size,
		toMillis(it.CreatedAt), toMillis(it.UpdatedAt))
	if err != nil {
		return err
	}
	tally(st, event)
	im.m.record(EntityItem, it.ID, event, "", snapshot(&it))
	return nil
}

func (im *importer) checkpoint(r ExportRecord, st *EntityStats) error {
	var rec checkpointExport
	if err := json.Unmarshal(r.Data, &rec); err != nil {
		return validationErr(im.m.op, "decode checkpoint: %v", err)
	}
	c := rec.Checkpoint
	if c.ID == "" || strings.TrimSpace(c.Name) == "" {
		return validationErr(im.m.op, "checkpoint %q has no id or name", c.ID)
	}
	if err := sessionExists(im.m.tx, im.m.op, c.SessionID); isNotFound(err) {
		st.Skipped++
		return nil
	} else if err != nil {
		return err
	}

	local, err := getCheckpoint(im.m.tx, c.ID)
	event := EventCreated
	switch {
	case err == nil:
		items, err := checkpointItems(im.m.tx, c.ID)
		if err != nil {
			return err
		}
		ok, err := im.wins(st, checkpointExport{Checkpoint: *local, Items: items}, r.ContentHash,
			local.CreatedAt, c.CreatedAt)
		if err != nil || !ok {
			return err
		}
		event = EventUpdated
	case !isNotFound(err):
		return err
	}

	_, err = im.m.tx.Exec(`INSERT INTO checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, name = excluded.name,
			description = excluded.description, git_branch = excluded.git_branch,
			git_status = excluded.git_status, created_at = excluded.created_at`,
		c.ID, c.SessionID, c.Name, c.Description, c.GitBranch, c.GitStatus, toMillis(c.CreatedAt))
	if err != nil {
		return err
	}
	if _, err := im.m.tx.Exec(`DELETE FROM checkpoint_items WHERE checkpoint_id = ?`, c.ID); err != nil {
		return err
	}
	for _, ci := range rec.Items {
		if ci.SourceItemID != "" {
			live, err := im.owned(`SELECT COUNT(*) FROM context_items WHERE id = ?`, ci.SourceItemID)
			if err != nil {
				return err
			}
			if !live {
				ci.SourceItemID = ""
			}
		}
		ci.Size = models.ItemSize(ci.Key, ci.Value)
		if _, err := putSnapshot(im.m, c.ID, ci); err != nil {
			return err
		}
	}
	if err := refreshCheckpointStats(im.m, c.ID); err != nil {
		return err
	}
	tally(st, event)
	im.m.record(EntityCheckpoint, c.ID, event, "", c.Name)
	return nil
}

// memory matches on project and key rather than id, so entries created
// independently on two machines merge instead of colliding
func (im *importer) memory(r ExportRecord, st *EntityStats) error {
	var mem models.Memory
	if err := json.Unmarshal(r.Data, &mem); err != nil {
		return validationErr(im.m.op, "decode memory: %v", err)
	}
	mem.ProjectPath = workdir.NormalizePath(mem.ProjectPath)
	mem.Key = strings.TrimSpace(mem.Key)
	if mem.ProjectPath == "" || mem.Key == "" || !models.IsValidMemoryCategory(mem.Category) {
		return validationErr(im.m.op, "memory %q has no project, no key or an invalid category", mem.ID)
	}

	local, err := getMemory(im.m.tx, mem.ProjectPath, mem.Key)
	switch {
	case err == nil:
		ok, err := im.wins(st, local, r.ContentHash, local.UpdatedAt, mem.UpdatedAt)
		if err != nil || !ok {
			return err
		}
		if _, err := im.m.tx.Exec(`UPDATE project_memory SET value = ?, category = ?, updated_at = ? WHERE id = ?`,
			mem.Value, mem.Category, toMillis(mem.UpdatedAt), local.ID); err != nil {
			return err
		}
		st.Updated++
		im.m.record(EntityMemory, local.ID, EventUpdated, snapshot(local), snapshot(&mem))
		return nil
	case !isNotFound(err):
		return err
	}

	if err := im.touch(mem.ProjectPath); err != nil {
		return err
	}
	if taken, err := im.owned(`SELECT COUNT(*) FROM project_memory WHERE id = ?`, mem.ID); err != nil {
		return err
	} else if taken || mem.ID == "" {
		mem.ID = newID(memoryIDPrefix)
	}
	if _, err := im.m.tx.Exec(`INSERT INTO project_memory (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.ProjectPath, mem.Key, mem.Value, mem.Category,
		toMillis(mem.CreatedAt), toMillis(mem.UpdatedAt)); err != nil {
		return err
	}
	st.Created++
	im.m.record(EntityMemory, mem.ID, EventCreated, "", snapshot(&mem))
	return nil
}

// owned runs a COUNT(*) query and reports whether it found any row
func (im *importer) owned(query string, args ...any) (bool, error) {
	var n int
	if err := im.m.tx.QueryRow(query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// bumpCounters moves every touched project's short id counters past the
// imported rows so new short ids start after them
func (im *importer) bumpCounters() error {
	for path := range im.projects {
		_, err := im.m.tx.Exec(`UPDATE projects SET
			next_issue_number = MAX(next_issue_number, (SELECT COUNT(*) FROM issues WHERE project_path = ?) + 1),
			next_plan_number = MAX(next_plan_number, (SELECT COUNT(*) FROM plans WHERE project_path = ?) + 1)
			WHERE project_path = ?`, path, path, path)
		if err != nil {
			return err
		}
	}
	return nil
}

func tally(st *EntityStats, event string) {
	if event == EventCreated {
		st.Created++
	} else {
		st.Updated++
	}
}
