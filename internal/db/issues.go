package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

const issueColumns = `i.id, i.short_id, i.project_path, i.plan_id, i.title, i.description, i.details, i.status,
	i.priority, i.issue_type, i.created_by, i.closed_by, i.assigned_to, i.session_id,
	i.created_at, i.updated_at, i.assigned_at, i.closed_at, i.deferred_at`

// Issue sort orders
const (
	SortPriority = "priority"
	SortCreated  = "created"
	SortUpdated  = "updated"
)

// DependencySpec is an edge to create along with a new issue
type DependencySpec struct {
	ID   string
	Type models.DependencyType
}

// CreateIssueInput describes a new issue. Status defaults to open, Priority
// to medium (2) and Type to task.
type CreateIssueInput struct {
	ProjectPath string
	Title       string
	Description string
	Details     string
	Status      models.Status
	Priority    *int
	Type        models.Type
	PlanID      string
	ParentID    string
	DependsOn   []DependencySpec
	Labels      []string
	SessionID   string
	Actor       string
}

// IssueUpdate is a partial patch of an issue. For PlanID, Assignee and
// ParentID an empty string clears the field.
type IssueUpdate struct {
	Title       *string
	Description *string
	Details     *string
	Status      *models.Status
	Priority    *int
	Type        *models.Type
	PlanID      *string
	Assignee    *string
	ParentID    *string
}

// IssueFilter narrows ListIssues. Closed issues are excluded unless Status
// is "all" or "closed".
type IssueFilter struct {
	ProjectPath string
	Status      string
	Type        models.Type
	Labels      []string // all must be present
	LabelsAny   []string // at least one must be present
	PriorityMin *int
	PriorityMax *int
	Assignee    string
	ParentID    string
	PlanID      string
	Search      string
	Limit       int
	SortBy      string
}

// CloneOverrides replaces fields of the cloned issue. Labels and the parent
// link are copied unless SkipLabels or SkipParent is set.
type CloneOverrides struct {
	Title       *string
	Description *string
	Details     *string
	Status      *models.Status
	Priority    *int
	Type        *models.Type
	PlanID      *string
	SkipLabels  bool
	SkipParent  bool
	Actor       string
}

func scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	var is models.Issue
	var plan, assignee sql.NullString
	var status, typ string
	var created, updated int64
	var assigned, closed, deferred sql.NullInt64
	err := row.Scan(&is.ID, &is.ShortID, &is.ProjectPath, &plan, &is.Title, &is.Description, &is.Details,
		&status, &is.Priority, &typ, &is.CreatedBy, &is.ClosedBy, &assignee, &is.SessionID,
		&created, &updated, &assigned, &closed, &deferred)
	if err != nil {
		return nil, err
	}
	is.PlanID = plan.String
	is.Assignee = assignee.String
	is.Status = models.Status(status)
	is.Type = models.Type(typ)
	is.CreatedAt = fromMillis(created)
	is.UpdatedAt = fromMillis(updated)
	is.AssignedAt = timePtr(assigned)
	is.ClosedAt = timePtr(closed)
	is.DeferredAt = timePtr(deferred)
	return &is, nil
}

func queryIssues(q queryer, query string, args ...any) ([]models.Issue, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var issues []models.Issue
	for rows.Next() {
		is, err := scanIssue(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		issues = append(issues, *is)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].Labels, err = issueLabels(q, issues[i].ID); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// resolveIssue finds an issue by id, then by short id. Short ids are unique
// per project only, so projectPath narrows the lookup when given; an
// ambiguous short id is a conflict.
func resolveIssue(q queryer, ref, projectPath string) (*models.Issue, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, validationErr("resolve issue", "issue id is required")
	}
	issues, err := queryIssues(q, `SELECT `+issueColumns+` FROM issues i WHERE i.id = ?`, ref)
	if err != nil {
		return nil, err
	}
	if len(issues) == 1 {
		return &issues[0], nil
	}

	query := `SELECT ` + issueColumns + ` FROM issues i WHERE i.short_id = ?`
	args := []any{ref}
	if projectPath != "" {
		query += ` AND i.project_path = ?`
		args = append(args, projectPath)
	}
	if issues, err = queryIssues(q, query, args...); err != nil {
		return nil, err
	}
	switch len(issues) {
	case 0:
		return nil, notFoundErr("resolve issue", EntityIssue, ref)
	case 1:
		return &issues[0], nil
	}
	return nil, conflictErr("resolve issue", EntityIssue, ref, "short id matches %d issues in different projects", len(issues))
}

func shortIDExists(q queryer, projectPath, shortID string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM issues WHERE project_path = ? AND short_id = ?`, projectPath, shortID).Scan(&n)
	return n > 0, err
}

// rootShortID allocates {prefix}-{n} from the project's issue counter,
// which every new issue advances
func rootShortID(m *mutation, projectPath string) (string, error) {
	p, err := ensureProject(m, projectPath)
	if err != nil {
		return "", err
	}
	for {
		n, err := nextCounter(m, projectPath, "next_issue_number")
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%d", p.IssuePrefix, n)
		exists, err := shortIDExists(m.tx, projectPath, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

// childShortID allocates {parentShortID}.{k}. k is one past both the number
// of children and the highest index already handed out, so a deleted
// sibling's index is never reused.
func childShortID(m *mutation, parent *models.Issue) (string, error) {
	var children int
	err := m.tx.QueryRow(`SELECT COUNT(*) FROM issue_dependencies WHERE depends_on_id = ? AND dependency_type = ?`,
		parent.ID, models.DepParentChild).Scan(&children)
	if err != nil {
		return "", err
	}

	prefix := parent.ShortID + "."
	rows, err := m.tx.Query(`SELECT short_id FROM issues WHERE project_path = ? AND short_id LIKE ?`,
		parent.ProjectPath, prefix+"%")
	if err != nil {
		return "", err
	}
	highest := 0
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return "", err
		}
		if !strings.HasPrefix(sid, prefix) {
			continue
		}
		if n, err := strconv.Atoi(sid[len(prefix):]); err == nil && n > highest {
			highest = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%d", prefix, max(children, highest)+1), nil
}

func validatePriority(op string, p *int) error {
	if p != nil && !models.IsValidPriority(*p) {
		return validationErr(op, "priority %d out of range 0-4", *p)
	}
	return nil
}

func insertIssue(m *mutation, is *models.Issue) error {
	_, err := m.tx.Exec(`INSERT INTO issues (id, short_id, project_path, plan_id, title, description, details, status,
		priority, issue_type, created_by, closed_by, assigned_to, session_id, created_at, updated_at,
		assigned_at, closed_at, deferred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		is.ID, is.ShortID, is.ProjectPath, nullString(is.PlanID), is.Title, is.Description, is.Details, is.Status,
		is.Priority, is.Type, is.CreatedBy, is.ClosedBy, nullString(is.Assignee), is.SessionID,
		toMillis(is.CreatedAt), toMillis(is.UpdatedAt), nullMillis(is.AssignedAt), nullMillis(is.ClosedAt),
		nullMillis(is.DeferredAt))
	return err
}

func writeIssue(m *mutation, is *models.Issue) error {
	_, err := m.tx.Exec(`UPDATE issues SET project_path = ?, plan_id = ?, title = ?, description = ?, details = ?,
		status = ?, priority = ?, issue_type = ?, closed_by = ?, assigned_to = ?, updated_at = ?,
		assigned_at = ?, closed_at = ?, deferred_at = ? WHERE id = ?`,
		is.ProjectPath, nullString(is.PlanID), is.Title, is.Description, is.Details, is.Status, is.Priority, is.Type,
		is.ClosedBy, nullString(is.Assignee), toMillis(is.UpdatedAt), nullMillis(is.AssignedAt),
		nullMillis(is.ClosedAt), nullMillis(is.DeferredAt), is.ID)
	return err
}

// applyStatus moves is to status, maintaining the closed and deferred
// timestamps.
func applyStatus(m *mutation, is *models.Issue, status models.Status) {
	if is.Status == status {
		return
	}
	old := is.Status
	is.Status = status
	now := m.now
	switch status {
	case models.StatusClosed:
		is.ClosedAt = &now
		is.ClosedBy = m.actor
	case models.StatusDeferred:
		is.DeferredAt = &now
	}
	if old == models.StatusClosed {
		is.ClosedAt = nil
		is.ClosedBy = ""
	}
	if old == models.StatusDeferred {
		is.DeferredAt = nil
	}
	m.record(EntityIssue, is.ID, EventStatusChanged, string(old), string(status))
}

func planExists(q queryer, op, planID string) error {
	var one int
	err := q.QueryRow(`SELECT 1 FROM plans WHERE id = ?`, planID).Scan(&one)
	if err == sql.ErrNoRows {
		return notFoundErr(op, EntityPlan, planID)
	}
	return err
}

// createIssue inserts an issue with its parent link, dependencies and labels
func createIssue(m *mutation, in CreateIssueInput, priority int) (*models.Issue, error) {
	const op = "create issue"
	is := &models.Issue{
		ID:          newID(issueIDPrefix),
		ProjectPath: in.ProjectPath,
		PlanID:      in.PlanID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Details:     in.Details,
		Status:      models.StatusOpen,
		Priority:    priority,
		Type:        in.Type,
		CreatedBy:   in.Actor,
		SessionID:   in.SessionID,
		CreatedAt:   m.now,
		UpdatedAt:   m.now,
	}
	if _, err := ensureProject(m, is.ProjectPath); err != nil {
		return nil, err
	}
	if is.PlanID != "" {
		if err := planExists(m.tx, op, is.PlanID); err != nil {
			return nil, err
		}
	}

	var parent *models.Issue
	var err error
	if in.ParentID != "" {
		if parent, err = resolveIssue(m.tx, in.ParentID, is.ProjectPath); err != nil {
			return nil, err
		}
		if parent.ProjectPath != is.ProjectPath {
			return nil, validationErr(op, "parent %s belongs to another project", parent.ShortID)
		}
		// children take a counter slot too, so root n stays count+1
		if _, err = nextCounter(m, is.ProjectPath, "next_issue_number"); err != nil {
			return nil, err
		}
		is.ShortID, err = childShortID(m, parent)
	} else {
		is.ShortID, err = rootShortID(m, is.ProjectPath)
	}
	if err != nil {
		return nil, err
	}

	if err := insertIssue(m, is); err != nil {
		return nil, err
	}
	if in.Status != "" && in.Status != models.StatusOpen {
		applyStatus(m, is, in.Status)
		if err := writeIssue(m, is); err != nil {
			return nil, err
		}
	}
	m.record(EntityIssue, is.ID, EventCreated, "", snapshot(is))

	if parent != nil {
		if _, err := addDependency(m, is, parent, models.DepParentChild); err != nil {
			return nil, err
		}
	}
	for _, d := range in.DependsOn {
		target, err := resolveIssue(m.tx, d.ID, is.ProjectPath)
		if err != nil {
			return nil, err
		}
		if _, err := addDependency(m, is, target, d.Type); err != nil {
			return nil, err
		}
	}
	if len(in.Labels) > 0 {
		if _, err := addLabels(m, is.ID, in.Labels); err != nil {
			return nil, err
		}
	}

	return loadIssue(m.tx, is.ID)
}

func loadIssue(q queryer, id string) (*models.Issue, error) {
	issues, err := queryIssues(q, `SELECT `+issueColumns+` FROM issues i WHERE i.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, notFoundErr("get issue", EntityIssue, id)
	}
	return &issues[0], nil
}

func validateCreate(op string, in *CreateIssueInput) (int, error) {
	if strings.TrimSpace(in.Title) == "" {
		return 0, validationErr(op, "title is required")
	}
	if in.ProjectPath == "" {
		return 0, validationErr(op, "project path is required")
	}
	if err := validatePriority(op, in.Priority); err != nil {
		return 0, err
	}
	if in.Status != "" && !models.IsValidStatus(in.Status) {
		return 0, validationErr(op, "invalid status %q", in.Status)
	}
	if in.Type == "" {
		in.Type = models.TypeTask
	}
	if !models.IsValidType(in.Type) {
		return 0, validationErr(op, "invalid issue type %q", in.Type)
	}
	for i := range in.DependsOn {
		if in.DependsOn[i].Type == "" {
			in.DependsOn[i].Type = models.DepBlocks
		}
		if !models.IsValidDependencyType(in.DependsOn[i].Type) {
			return 0, validationErr(op, "invalid dependency type %q", in.DependsOn[i].Type)
		}
	}
	priority := models.PriorityMedium
	if in.Priority != nil {
		priority = *in.Priority
	}
	return priority, nil
}

// CreateIssue creates an issue, its parent link, dependencies and labels in
// one transaction.
func (db *DB) CreateIssue(in CreateIssueInput) (*models.Issue, error) {
	const op = "create issue"
	in.ProjectPath = workdir.NormalizePath(in.ProjectPath)
	priority, err := validateCreate(op, &in)
	if err != nil {
		return nil, err
	}

	var is *models.Issue
	err = db.mutate(op, in.Actor, func(m *mutation) error {
		var err error
		is, err = createIssue(m, in, priority)
		return err
	})
	if err != nil {
		return nil, err
	}
	return is, nil
}

// GetIssue returns an issue by id or short id
func (db *DB) GetIssue(ref string) (*models.Issue, error) {
	is, err := resolveIssue(db.conn, ref, "")
	return is, classify("get issue", err)
}

// GetIssueInProject returns an issue by id or by short id within a project
func (db *DB) GetIssueInProject(projectPath, ref string) (*models.Issue, error) {
	is, err := resolveIssue(db.conn, ref, workdir.NormalizePath(projectPath))
	return is, classify("get issue", err)
}

func orderClause(sortBy string) (string, error) {
	switch sortBy {
	case "", SortPriority:
		return ` ORDER BY i.priority DESC, i.created_at ASC, i.rowid ASC`, nil
	case SortCreated:
		return ` ORDER BY i.created_at DESC, i.rowid DESC`, nil
	case SortUpdated:
		return ` ORDER BY i.updated_at DESC, i.rowid DESC`, nil
	}
	return "", fmt.Errorf("invalid sort %q", sortBy)
}

func labelClauses(allOf, anyOf []string) (string, []any) {
	var clause string
	var args []any
	for _, l := range normalizeLabels(allOf) {
		clause += ` AND EXISTS (SELECT 1 FROM issue_labels l WHERE l.issue_id = i.id AND l.label = ?)`
		args = append(args, l)
	}
	if labels := normalizeLabels(anyOf); len(labels) > 0 {
		clause += ` AND EXISTS (SELECT 1 FROM issue_labels l WHERE l.issue_id = i.id AND l.label IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",") + `))`
		for _, l := range labels {
			args = append(args, l)
		}
	}
	return clause, args
}

// ListIssues returns issues matching f, by default highest priority first
func (db *DB) ListIssues(f IssueFilter) ([]models.Issue, error) {
	const op = "list issues"
	if f.Limit < 0 {
		return nil, validationErr(op, "limit must not be negative")
	}
	if f.Status != "" && f.Status != StatusAll && !models.IsValidStatus(models.Status(f.Status)) {
		return nil, validationErr(op, "invalid status %q", f.Status)
	}
	if f.Type != "" && !models.IsValidType(f.Type) {
		return nil, validationErr(op, "invalid issue type %q", f.Type)
	}
	if err := validatePriority(op, f.PriorityMin); err != nil {
		return nil, err
	}
	if err := validatePriority(op, f.PriorityMax); err != nil {
		return nil, err
	}
	order, err := orderClause(f.SortBy)
	if err != nil {
		return nil, validationErr(op, "%v", err)
	}

	query := `SELECT ` + issueColumns + ` FROM issues i WHERE 1=1`
	var args []any
	if f.ProjectPath != "" {
		query += ` AND i.project_path = ?`
		args = append(args, workdir.NormalizePath(f.ProjectPath))
	}
	switch f.Status {
	case StatusAll:
	case "":
		query += ` AND i.status != 'closed'`
	default:
		query += ` AND i.status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND i.issue_type = ?`
		args = append(args, f.Type)
	}
	if f.PriorityMin != nil {
		query += ` AND i.priority >= ?`
		args = append(args, *f.PriorityMin)
	}
	if f.PriorityMax != nil {
		query += ` AND i.priority <= ?`
		args = append(args, *f.PriorityMax)
	}
	if f.Assignee != "" {
		query += ` AND i.assigned_to = ?`
		args = append(args, f.Assignee)
	}
	if f.ParentID != "" {
		parent, err := resolveIssue(db.conn, f.ParentID, workdir.NormalizePath(f.ProjectPath))
		if err != nil {
			return nil, classify(op, err)
		}
		query += ` AND EXISTS (SELECT 1 FROM issue_dependencies d WHERE d.issue_id = i.id
			AND d.depends_on_id = ? AND d.dependency_type = 'parent-child')`
		args = append(args, parent.ID)
	}
	if f.PlanID != "" {
		query += ` AND i.plan_id = ?`
		args = append(args, f.PlanID)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query += ` AND (i.title LIKE ? OR i.description LIKE ? OR i.short_id LIKE ?)`
		args = append(args, like, like, like)
	}
	labelSQL, labelArgs := labelClauses(f.Labels, f.LabelsAny)
	query += labelSQL + order
	args = append(args, labelArgs...)
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	issues, err := queryIssues(db.conn, query, args...)
	return issues, classify(op, err)
}

// UpdateIssue applies a partial patch to an issue
func (db *DB) UpdateIssue(ref string, u IssueUpdate, actor string) (*models.Issue, error) {
	const op = "update issue"
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, validationErr(op, "title must not be empty")
	}
	if u.Status != nil && !models.IsValidStatus(*u.Status) {
		return nil, validationErr(op, "invalid status %q", *u.Status)
	}
	if u.Type != nil && !models.IsValidType(*u.Type) {
		return nil, validationErr(op, "invalid issue type %q", *u.Type)
	}
	if err := validatePriority(op, u.Priority); err != nil {
		return nil, err
	}

	var is *models.Issue
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		is, err = resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		before := snapshot(is)

		if u.Title != nil {
			is.Title = strings.TrimSpace(*u.Title)
		}
		if u.Description != nil {
			is.Description = *u.Description
		}
		if u.Details != nil {
			is.Details = *u.Details
		}
		if u.Priority != nil {
			is.Priority = *u.Priority
		}
		if u.Type != nil {
			is.Type = *u.Type
		}
		if u.PlanID != nil {
			if *u.PlanID != "" {
				if err := planExists(m.tx, op, *u.PlanID); err != nil {
					return err
				}
			}
			is.PlanID = *u.PlanID
		}
		if u.Assignee != nil && *u.Assignee != is.Assignee {
			is.Assignee = strings.TrimSpace(*u.Assignee)
			if is.Assignee == "" {
				is.AssignedAt = nil
			} else {
				now := m.now
				is.AssignedAt = &now
			}
		}
		if u.Status != nil {
			applyStatus(m, is, *u.Status)
		}
		is.UpdatedAt = m.now
		if err := writeIssue(m, is); err != nil {
			return err
		}

		if u.ParentID != nil {
			if err := setParent(m, is, *u.ParentID); err != nil {
				return err
			}
		}

		m.record(EntityIssue, is.ID, EventUpdated, before, snapshot(is))
		is, err = loadIssue(m.tx, is.ID)
		return err
	})
	return is, err
}

// setParent replaces the issue's parent link. The short id is not changed.
func setParent(m *mutation, is *models.Issue, parentRef string) error {
	if _, err := m.tx.Exec(`DELETE FROM issue_dependencies WHERE issue_id = ? AND dependency_type = ?`,
		is.ID, models.DepParentChild); err != nil {
		return err
	}
	if parentRef == "" {
		return nil
	}
	parent, err := resolveIssue(m.tx, parentRef, is.ProjectPath)
	if err != nil {
		return err
	}
	if parent.ProjectPath != is.ProjectPath {
		return validationErr(m.op, "parent %s belongs to another project", parent.ShortID)
	}
	_, err = addDependency(m, is, parent, models.DepParentChild)
	return err
}

// DeleteIssue removes an issue with its labels and all edges touching it
func (db *DB) DeleteIssue(ref, actor string) error {
	const op = "delete issue"
	return db.mutate(op, actor, func(m *mutation) error {
		is, err := resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		if _, err := m.tx.Exec(`DELETE FROM issues WHERE id = ?`, is.ID); err != nil {
			return err
		}
		m.record(EntityIssue, is.ID, EventDeleted, snapshot(is), "")
		return nil
	})
}

// CloneIssue copies an issue into a new one with a fresh id and short id.
// The clone starts open and unassigned unless overridden.
func (db *DB) CloneIssue(ref string, o CloneOverrides) (*models.Issue, error) {
	const op = "clone issue"
	if err := validatePriority(op, o.Priority); err != nil {
		return nil, err
	}
	if o.Title != nil && strings.TrimSpace(*o.Title) == "" {
		return nil, validationErr(op, "title must not be empty")
	}
	if o.Status != nil && !models.IsValidStatus(*o.Status) {
		return nil, validationErr(op, "invalid status %q", *o.Status)
	}
	if o.Type != nil && !models.IsValidType(*o.Type) {
		return nil, validationErr(op, "invalid issue type %q", *o.Type)
	}

	var clone *models.Issue
	err := db.mutate(op, o.Actor, func(m *mutation) error {
		src, err := resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		in := CreateIssueInput{
			ProjectPath: src.ProjectPath,
			Title:       src.Title,
			Description: src.Description,
			Details:     src.Details,
			Type:        src.Type,
			PlanID:      src.PlanID,
			SessionID:   src.SessionID,
			Actor:       o.Actor,
		}
		priority := src.Priority
		if o.Title != nil {
			in.Title = *o.Title
		}
		if o.Description != nil {
			in.Description = *o.Description
		}
		if o.Details != nil {
			in.Details = *o.Details
		}
		if o.Priority != nil {
			priority = *o.Priority
		}
		if o.Type != nil {
			in.Type = *o.Type
		}
		if o.PlanID != nil {
			in.PlanID = *o.PlanID
		}
		if o.Status != nil {
			in.Status = *o.Status
		}
		if !o.SkipLabels {
			in.Labels = src.Labels
		}
		if !o.SkipParent {
			parent, err := parentOf(m.tx, src.ID)
			if err != nil {
				return err
			}
			if parent != nil {
				in.ParentID = parent.ID
			}
		}

		clone, err = createIssue(m, in, priority)
		if err != nil {
			return err
		}
		m.record(EntityIssue, clone.ID, EventCreated, src.ID, "cloned")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// MarkDuplicate closes an issue and links it to the issue it duplicates
func (db *DB) MarkDuplicate(ref, duplicateOfRef, actor string) (*models.Issue, error) {
	const op = "mark duplicate"
	var is *models.Issue
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		is, err = resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		orig, err := resolveIssue(m.tx, duplicateOfRef, is.ProjectPath)
		if err != nil {
			return err
		}
		if _, err := addDependency(m, is, orig, models.DepDuplicateOf); err != nil {
			return err
		}
		applyStatus(m, is, models.StatusClosed)
		is.UpdatedAt = m.now
		if err := writeIssue(m, is); err != nil {
			return err
		}
		is, err = loadIssue(m.tx, is.ID)
		return err
	})
	return is, err
}

// ClaimIssue assigns an issue to agent and marks it in progress
func (db *DB) ClaimIssue(ref, agent string) (*models.Issue, error) {
	const op = "claim issue"
	if strings.TrimSpace(agent) == "" {
		return nil, validationErr(op, "agent is required")
	}
	var is *models.Issue
	err := db.mutate(op, agent, func(m *mutation) error {
		var err error
		is, err = resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		if is.Status == models.StatusClosed {
			return invalidStateErr(op, EntityIssue, is.ShortID, "issue is closed")
		}
		if is.Assignee != "" && is.Assignee != agent {
			return conflictErr(op, EntityIssue, is.ShortID, "already assigned to %s", is.Assignee)
		}
		now := m.now
		is.Assignee = agent
		is.AssignedAt = &now
		applyStatus(m, is, models.StatusInProgress)
		is.UpdatedAt = now
		if err := writeIssue(m, is); err != nil {
			return err
		}
		m.record(EntityIssue, is.ID, EventClaimed, "", agent)
		return nil
	})
	return is, err
}

// ReleaseIssue unassigns an issue claimed by agent and reopens it if it was
// in progress
func (db *DB) ReleaseIssue(ref, agent string) (*models.Issue, error) {
	const op = "release issue"
	var is *models.Issue
	err := db.mutate(op, agent, func(m *mutation) error {
		var err error
		is, err = resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		if is.Assignee == "" {
			return invalidStateErr(op, EntityIssue, is.ShortID, "issue is not assigned")
		}
		if agent != "" && is.Assignee != agent {
			return conflictErr(op, EntityIssue, is.ShortID, "assigned to %s, not %s", is.Assignee, agent)
		}
		prev := is.Assignee
		is.Assignee = ""
		is.AssignedAt = nil
		if is.Status == models.StatusInProgress {
			applyStatus(m, is, models.StatusOpen)
		}
		is.UpdatedAt = m.now
		if err := writeIssue(m, is); err != nil {
			return err
		}
		m.record(EntityIssue, is.ID, EventReleased, prev, "")
		return nil
	})
	return is, err
}
