package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

const (
	defaultPlanPrefix   = "PLAN"
	fallbackIssuePrefix = "PROJ"
)

const projectColumns = `id, project_path, name, description, issue_prefix, next_issue_number,
	plan_prefix, next_plan_number, created_at, updated_at`

// DefaultIssuePrefix derives an issue prefix from the last path segment:
// its first four letters or digits, uppercased.
func DefaultIssuePrefix(path string) string {
	var b strings.Builder
	n := 0
	for _, r := range filepath.Base(path) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			if n++; n == 4 {
				break
			}
		}
	}
	if n == 0 {
		return fallbackIssuePrefix
	}
	return b.String()
}

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var p models.Project
	var created, updated int64
	err := row.Scan(&p.ID, &p.Path, &p.Name, &p.Description, &p.IssuePrefix, &p.NextIssueNumber,
		&p.PlanPrefix, &p.NextPlanNumber, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func getProject(q queryer, path string) (*models.Project, error) {
	p, err := scanProject(q.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE project_path = ?`, path))
	if err == sql.ErrNoRows {
		return nil, notFoundErr("get project", EntityProject, path)
	}
	return p, err
}

// ensureProject returns the project at path, creating it inside m if needed
func ensureProject(m *mutation, path string) (*models.Project, error) {
	if path == "" {
		return nil, validationErr(m.op, "project path is required")
	}
	p, err := getProject(m.tx, path)
	if err == nil {
		return p, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	p = &models.Project{
		ID:              newID(projectIDPrefix),
		Path:            path,
		Name:            filepath.Base(path),
		IssuePrefix:     DefaultIssuePrefix(path),
		NextIssueNumber: 1,
		PlanPrefix:      defaultPlanPrefix,
		NextPlanNumber:  1,
		CreatedAt:       m.now,
		UpdatedAt:       m.now,
	}
	_, err = m.tx.Exec(`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Path, p.Name, p.Description, p.IssuePrefix, p.NextIssueNumber,
		p.PlanPrefix, p.NextPlanNumber, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return nil, err
	}
	m.record(EntityProject, p.ID, EventCreated, "", p.Path)
	return p, nil
}

// nextCounter returns the current value of a project counter and advances it
func nextCounter(m *mutation, path, column string) (int, error) {
	if _, err := ensureProject(m, path); err != nil {
		return 0, err
	}
	var n int
	// column is one of two constants, never caller input
	err := m.tx.QueryRow(`UPDATE projects SET `+column+` = `+column+` + 1, updated_at = ?
		WHERE project_path = ? RETURNING `+column+` - 1`, toMillis(m.now), path).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetOrCreateProject returns the project registered at path, creating it on
// first reference
func (db *DB) GetOrCreateProject(path string) (*models.Project, error) {
	path = workdir.NormalizePath(path)
	var p *models.Project
	err := db.mutate("get or create project", "", func(m *mutation) error {
		var err error
		p, err = ensureProject(m, path)
		return err
	})
	return p, err
}

// GetProject returns the project registered at path
func (db *DB) GetProject(path string) (*models.Project, error) {
	p, err := getProject(db.conn, workdir.NormalizePath(path))
	return p, classify("get project", err)
}

// ListProjects returns all projects ordered by path
func (db *DB) ListProjects() ([]models.Project, error) {
	rows, err := db.conn.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY project_path`)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// NextIssueCounter hands out the next issue number for a project
func (db *DB) NextIssueCounter(path string) (int, error) {
	path = workdir.NormalizePath(path)
	var n int
	err := db.mutate("next issue counter", "", func(m *mutation) error {
		var err error
		n, err = nextCounter(m, path, "next_issue_number")
		return err
	})
	return n, err
}

// NextPlanCounter hands out the next plan number for a project
func (db *DB) NextPlanCounter(path string) (int, error) {
	path = workdir.NormalizePath(path)
	var n int
	err := db.mutate("next plan counter", "", func(m *mutation) error {
		var err error
		n, err = nextCounter(m, path, "next_plan_number")
		return err
	})
	return n, err
}

// ProjectUpdate holds the project fields to change; nil means unchanged
type ProjectUpdate struct {
	Name        *string
	Description *string
	IssuePrefix *string
	PlanPrefix  *string
}

// UpdateProject patches a project's display fields and prefixes
func (db *DB) UpdateProject(path string, u ProjectUpdate, actor string) (*models.Project, error) {
	const op = "update project"
	path = workdir.NormalizePath(path)
	for _, prefix := range []*string{u.IssuePrefix, u.PlanPrefix} {
		if prefix != nil && !validPrefix(*prefix) {
			return nil, validationErr(op, "prefix %q must be non-empty letters, digits or '_'", *prefix)
		}
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, validationErr(op, "name must not be empty")
	}

	var p *models.Project
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		p, err = getProject(m.tx, path)
		if err != nil {
			return err
		}
		before := snapshot(p)
		if u.Name != nil {
			p.Name = strings.TrimSpace(*u.Name)
		}
		if u.Description != nil {
			p.Description = *u.Description
		}
		if u.IssuePrefix != nil {
			p.IssuePrefix = strings.ToUpper(*u.IssuePrefix)
		}
		if u.PlanPrefix != nil {
			p.PlanPrefix = strings.ToUpper(*u.PlanPrefix)
		}
		p.UpdatedAt = m.now
		_, err = m.tx.Exec(`UPDATE projects SET name = ?, description = ?, issue_prefix = ?, plan_prefix = ?, updated_at = ?
			WHERE id = ?`, p.Name, p.Description, p.IssuePrefix, p.PlanPrefix, toMillis(p.UpdatedAt), p.ID)
		if err != nil {
			return err
		}
		m.record(EntityProject, p.ID, EventUpdated, before, snapshot(p))
		return nil
	})
	return p, err
}

// DeleteProject removes a project that nothing references any more
func (db *DB) DeleteProject(path, actor string) error {
	const op = "delete project"
	path = workdir.NormalizePath(path)
	return db.mutate(op, actor, func(m *mutation) error {
		p, err := getProject(m.tx, path)
		if err != nil {
			return err
		}
		var refs int
		err = m.tx.QueryRow(`SELECT
			(SELECT COUNT(*) FROM session_projects WHERE project_path = ?) +
			(SELECT COUNT(*) FROM issues WHERE project_path = ?) +
			(SELECT COUNT(*) FROM plans WHERE project_path = ?) +
			(SELECT COUNT(*) FROM project_memory WHERE project_path = ?)`,
			path, path, path, path).Scan(&refs)
		if err != nil {
			return err
		}
		if refs > 0 {
			return invalidStateErr(op, EntityProject, path, "still referenced by %d sessions, issues, plans or memories", refs)
		}
		if _, err := m.tx.Exec(`DELETE FROM projects WHERE id = ?`, p.ID); err != nil {
			return err
		}
		m.record(EntityProject, p.ID, EventDeleted, path, "")
		return nil
	})
}

func validPrefix(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
