package db

import (
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

const defaultBlockSize = 3

// readyCondition selects open, unassigned issues with no blocks edge to an
// issue that is not closed
const readyCondition = `i.status = 'open' AND i.assigned_to IS NULL AND NOT EXISTS (
	SELECT 1 FROM issue_dependencies d JOIN issues t ON t.id = d.depends_on_id
	WHERE d.issue_id = i.id AND d.dependency_type = 'blocks' AND t.status != 'closed')`

// ReadyOptions narrows Ready. Labels match when the issue has any of them.
type ReadyOptions struct {
	ProjectPath string
	Labels      []string
	PriorityMin *int
	Limit       int
	SortBy      string
}

// NextBlockOptions narrows NextBlock. Count defaults to 3.
type NextBlockOptions struct {
	ProjectPath string
	Count       int
	Labels      []string
	PriorityMin *int
	Agent       string
}

func readyQuery(op string, o ReadyOptions) (string, []any, error) {
	if o.Limit < 0 {
		return "", nil, validationErr(op, "limit must not be negative")
	}
	if err := validatePriority(op, o.PriorityMin); err != nil {
		return "", nil, err
	}
	order, err := orderClause(o.SortBy)
	if err != nil {
		return "", nil, validationErr(op, "%v", err)
	}

	query := `SELECT ` + issueColumns + ` FROM issues i WHERE ` + readyCondition
	var args []any
	if o.ProjectPath != "" {
		query += ` AND i.project_path = ?`
		args = append(args, workdir.NormalizePath(o.ProjectPath))
	}
	if o.PriorityMin != nil {
		query += ` AND i.priority >= ?`
		args = append(args, *o.PriorityMin)
	}
	labelSQL, labelArgs := labelClauses(nil, o.Labels)
	query += labelSQL + order
	args = append(args, labelArgs...)
	if o.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, o.Limit)
	}
	return query, args, nil
}

// Ready returns issues that can be picked up now: open, unassigned and not
// waiting on any unclosed blocker
func (db *DB) Ready(o ReadyOptions) ([]models.Issue, error) {
	const op = "ready issues"
	query, args, err := readyQuery(op, o)
	if err != nil {
		return nil, err
	}
	issues, err := queryIssues(db.conn, query, args...)
	return issues, classify(op, err)
}

// NextBlock claims up to Count ready issues for the agent. Selection and
// assignment happen in one write transaction, and each claim re-checks that
// the issue is still open and unassigned, so concurrent callers never get
// the same issue.
func (db *DB) NextBlock(o NextBlockOptions) ([]models.Issue, error) {
	const op = "next block"
	agent := strings.TrimSpace(o.Agent)
	if agent == "" {
		return nil, validationErr(op, "agent is required")
	}
	if o.Count < 0 {
		return nil, validationErr(op, "count must not be negative")
	}
	if o.Count == 0 {
		o.Count = defaultBlockSize
	}
	query, args, err := readyQuery(op, ReadyOptions{
		ProjectPath: o.ProjectPath,
		Labels:      o.Labels,
		PriorityMin: o.PriorityMin,
		Limit:       o.Count,
	})
	if err != nil {
		return nil, err
	}

	var claimed []models.Issue
	err = db.mutate(op, agent, func(m *mutation) error {
		candidates, err := queryIssues(m.tx, query, args...)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			res, err := m.tx.Exec(`UPDATE issues SET assigned_to = ?, assigned_at = ?, status = 'in_progress', updated_at = ?
				WHERE id = ? AND status = 'open' AND assigned_to IS NULL`,
				agent, toMillis(m.now), toMillis(m.now), c.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			m.record(EntityIssue, c.ID, EventClaimed, "", agent)
			is, err := loadIssue(m.tx, c.ID)
			if err != nil {
				return err
			}
			claimed = append(claimed, *is)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// BlockedIssue is an issue together with the unclosed issues blocking it
type BlockedIssue struct {
	Issue    models.Issue   `json:"issue"`
	Blockers []models.Issue `json:"blockers"`
}

// Blocked returns the project's non-closed issues that have at least one
// unclosed blocker
func (db *DB) Blocked(projectPath string) ([]BlockedIssue, error) {
	const op = "blocked issues"
	query := `SELECT ` + issueColumns + ` FROM issues i WHERE i.status != 'closed' AND EXISTS (
		SELECT 1 FROM issue_dependencies d JOIN issues t ON t.id = d.depends_on_id
		WHERE d.issue_id = i.id AND d.dependency_type = 'blocks' AND t.status != 'closed')`
	var args []any
	if projectPath != "" {
		query += ` AND i.project_path = ?`
		args = append(args, workdir.NormalizePath(projectPath))
	}
	query += ` ORDER BY i.priority DESC, i.created_at ASC`

	issues, err := queryIssues(db.conn, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	out := make([]BlockedIssue, 0, len(issues))
	for _, is := range issues {
		blockers, err := queryIssues(db.conn, `SELECT `+issueColumns+` FROM issues i
			JOIN issue_dependencies d ON d.depends_on_id = i.id
			WHERE d.issue_id = ? AND d.dependency_type = 'blocks' AND i.status != 'closed'
			ORDER BY i.priority DESC, i.created_at ASC`, is.ID)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, BlockedIssue{Issue: is, Blockers: blockers})
	}
	return out, nil
}

// EpicProgress counts an issue's direct children by status
type EpicProgress struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Closed     int `json:"closed"`
	Deferred   int `json:"deferred"`
}

// Percent returns the share of closed children, 0 when there are none
func (p EpicProgress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Closed * 100 / p.Total
}

// Progress summarizes the children of an epic (or any parent issue)
func (db *DB) Progress(ref string) (*EpicProgress, error) {
	children, err := db.Children(ref)
	if err != nil {
		return nil, err
	}
	p := &EpicProgress{Total: len(children)}
	for _, c := range children {
		switch c.Status {
		case models.StatusOpen:
			p.Open++
		case models.StatusInProgress:
			p.InProgress++
		case models.StatusBlocked:
			p.Blocked++
		case models.StatusClosed:
			p.Closed++
		case models.StatusDeferred:
			p.Deferred++
		}
	}
	return p, nil
}
