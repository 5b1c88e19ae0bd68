package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

const planColumns = `id, short_id, project_path, title, content, status, success_criteria, created_at, updated_at, completed_at`

// CreatePlanInput describes a new plan. Status defaults to draft.
type CreatePlanInput struct {
	ProjectPath     string
	Title           string
	Content         string
	Status          models.PlanStatus
	SuccessCriteria string
	Actor           string
}

// PlanUpdate is a partial patch of a plan; nil fields are unchanged.
// Changing ProjectPath moves every issue linked to the plan as well.
type PlanUpdate struct {
	Title           *string
	Content         *string
	Status          *models.PlanStatus
	SuccessCriteria *string
	ProjectPath     *string
}

func scanPlan(row interface{ Scan(...any) error }) (*models.Plan, error) {
	var p models.Plan
	var status string
	var created, updated int64
	var completed sql.NullInt64
	err := row.Scan(&p.ID, &p.ShortID, &p.ProjectPath, &p.Title, &p.Content, &status, &p.SuccessCriteria,
		&created, &updated, &completed)
	if err != nil {
		return nil, err
	}
	p.Status = models.PlanStatus(status)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	p.CompletedAt = timePtr(completed)
	return &p, nil
}

// resolvePlan finds a plan by id, then by short id within projectPath (any
// project when empty)
func resolvePlan(q queryer, ref, projectPath string) (*models.Plan, error) {
	p, err := scanPlan(q.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, ref))
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	query := `SELECT ` + planColumns + ` FROM plans WHERE short_id = ?`
	args := []any{ref}
	if projectPath != "" {
		query += ` AND project_path = ?`
		args = append(args, projectPath)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []*models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, notFoundErr("get plan", EntityPlan, ref)
	case 1:
		return found[0], nil
	}
	return nil, conflictErr("get plan", EntityPlan, ref, "short id matches %d plans in different projects", len(found))
}

func planShortID(m *mutation, projectPath string) (string, error) {
	p, err := ensureProject(m, projectPath)
	if err != nil {
		return "", err
	}
	for {
		n, err := nextCounter(m, projectPath, "next_plan_number")
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%d", p.PlanPrefix, n)
		var exists int
		if err := m.tx.QueryRow(`SELECT COUNT(*) FROM plans WHERE project_path = ? AND short_id = ?`,
			projectPath, id).Scan(&exists); err != nil {
			return "", err
		}
		if exists == 0 {
			return id, nil
		}
	}
}

func writePlan(m *mutation, p *models.Plan) error {
	_, err := m.tx.Exec(`UPDATE plans SET project_path = ?, title = ?, content = ?, status = ?, success_criteria = ?,
		updated_at = ?, completed_at = ? WHERE id = ?`,
		p.ProjectPath, p.Title, p.Content, p.Status, p.SuccessCriteria, toMillis(p.UpdatedAt), nullMillis(p.CompletedAt), p.ID)
	return err
}

// CreatePlan creates a plan with the next {planPrefix}-{n} short id
func (db *DB) CreatePlan(in CreatePlanInput) (*models.Plan, error) {
	const op = "create plan"
	in.ProjectPath = workdir.NormalizePath(in.ProjectPath)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationErr(op, "title is required")
	}
	if in.ProjectPath == "" {
		return nil, validationErr(op, "project path is required")
	}
	if in.Status == "" {
		in.Status = models.PlanDraft
	}
	if !models.IsValidPlanStatus(in.Status) {
		return nil, validationErr(op, "invalid plan status %q", in.Status)
	}

	var plan *models.Plan
	err := db.mutate(op, in.Actor, func(m *mutation) error {
		shortID, err := planShortID(m, in.ProjectPath)
		if err != nil {
			return err
		}
		plan = &models.Plan{
			ID:              newID(planIDPrefix),
			ShortID:         shortID,
			ProjectPath:     in.ProjectPath,
			Title:           title,
			Content:         in.Content,
			Status:          in.Status,
			SuccessCriteria: in.SuccessCriteria,
			CreatedAt:       m.now,
			UpdatedAt:       m.now,
		}
		if plan.Status == models.PlanCompleted {
			now := m.now
			plan.CompletedAt = &now
		}
		_, err = m.tx.Exec(`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			plan.ID, plan.ShortID, plan.ProjectPath, plan.Title, plan.Content, plan.Status, plan.SuccessCriteria,
			toMillis(plan.CreatedAt), toMillis(plan.UpdatedAt), nullMillis(plan.CompletedAt))
		if err != nil {
			return err
		}
		m.record(EntityPlan, plan.ID, EventCreated, "", snapshot(plan))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// GetPlan returns a plan by id or short id
func (db *DB) GetPlan(ref string) (*models.Plan, error) {
	p, err := resolvePlan(db.conn, ref, "")
	return p, classify("get plan", err)
}

// GetPlanInProject returns a plan by id or by short id within a project
func (db *DB) GetPlanInProject(projectPath, ref string) (*models.Plan, error) {
	p, err := resolvePlan(db.conn, ref, workdir.NormalizePath(projectPath))
	return p, classify("get plan", err)
}

// ListPlans returns plans, newest first. Archived plans are excluded unless
// status is "all" or "archived".
func (db *DB) ListPlans(projectPath, status string) ([]models.Plan, error) {
	const op = "list plans"
	if status != "" && status != StatusAll && !models.IsValidPlanStatus(models.PlanStatus(status)) {
		return nil, validationErr(op, "invalid plan status %q", status)
	}
	query := `SELECT ` + planColumns + ` FROM plans WHERE 1=1`
	var args []any
	if projectPath != "" {
		query += ` AND project_path = ?`
		args = append(args, workdir.NormalizePath(projectPath))
	}
	switch status {
	case StatusAll:
	case "":
		query += ` AND status != 'archived'`
	default:
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// UpdatePlan applies a partial patch to a plan
func (db *DB) UpdatePlan(ref string, u PlanUpdate, actor string) (*models.Plan, error) {
	const op = "update plan"
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, validationErr(op, "title must not be empty")
	}
	if u.Status != nil && !models.IsValidPlanStatus(*u.Status) {
		return nil, validationErr(op, "invalid plan status %q", *u.Status)
	}
	var newPath string
	if u.ProjectPath != nil {
		if newPath = workdir.NormalizePath(*u.ProjectPath); newPath == "" {
			return nil, validationErr(op, "project path must not be empty")
		}
	}

	var plan *models.Plan
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		plan, err = resolvePlan(m.tx, ref, "")
		if err != nil {
			return err
		}
		before := snapshot(plan)
		if u.Title != nil {
			plan.Title = strings.TrimSpace(*u.Title)
		}
		if u.Content != nil {
			plan.Content = *u.Content
		}
		if u.SuccessCriteria != nil {
			plan.SuccessCriteria = *u.SuccessCriteria
		}
		if u.Status != nil && *u.Status != plan.Status {
			old := plan.Status
			plan.Status = *u.Status
			if plan.Status == models.PlanCompleted {
				now := m.now
				plan.CompletedAt = &now
			} else {
				plan.CompletedAt = nil
			}
			m.record(EntityPlan, plan.ID, EventStatusChanged, string(old), string(plan.Status))
		}
		if newPath != "" && newPath != plan.ProjectPath {
			if _, err := ensureProject(m, newPath); err != nil {
				return err
			}
			if err := movePlanIssues(m, plan.ID, newPath); err != nil {
				return err
			}
			plan.ProjectPath = newPath
		}
		plan.UpdatedAt = m.now
		if err := writePlan(m, plan); err != nil {
			return err
		}
		m.record(EntityPlan, plan.ID, EventUpdated, before, snapshot(plan))
		return nil
	})
	return plan, err
}

// movePlanIssues moves the plan's issues to another project. Short ids are
// kept; one already taken in the target project fails the whole update as a
// conflict.
func movePlanIssues(m *mutation, planID, newPath string) error {
	rows, err := m.tx.Query(`SELECT id, project_path FROM issues WHERE plan_id = ?`, planID)
	if err != nil {
		return err
	}
	moved := make(map[string]string)
	for rows.Next() {
		var id, from string
		if err := rows.Scan(&id, &from); err != nil {
			rows.Close()
			return err
		}
		moved[id] = from
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := m.tx.Exec(`UPDATE issues SET project_path = ?, updated_at = ? WHERE plan_id = ?`,
		newPath, toMillis(m.now), planID); err != nil {
		return err
	}
	for id, from := range moved {
		m.record(EntityIssue, id, EventUpdated, from, newPath)
	}
	return nil
}

// DeletePlan removes a plan. Linked issues stay and lose their plan link.
func (db *DB) DeletePlan(ref, actor string) error {
	const op = "delete plan"
	return db.mutate(op, actor, func(m *mutation) error {
		plan, err := resolvePlan(m.tx, ref, "")
		if err != nil {
			return err
		}
		if _, err := m.tx.Exec(`DELETE FROM plans WHERE id = ?`, plan.ID); err != nil {
			return err
		}
		m.record(EntityPlan, plan.ID, EventDeleted, snapshot(plan), "")
		return nil
	})
}
