package db

import (
	"database/sql"

	"github.com/marcus/savecontext/internal/models"
)

// reaches reports whether to is reachable from from by following outgoing
// edges of type typ
func reaches(q queryer, from, to string, typ models.DependencyType) (bool, error) {
	var one int
	err := q.QueryRow(`WITH RECURSIVE reach(id) AS (
			SELECT ?
			UNION
			SELECT d.depends_on_id FROM issue_dependencies d
			JOIN reach r ON d.issue_id = r.id
			WHERE d.dependency_type = ?
		)
		SELECT 1 FROM reach WHERE id = ? LIMIT 1`, from, typ, to).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// addDependency creates the edge is -> target of type typ and applies the
// blocking cascade. Re-adding an identical edge is a no-op and reports false.
func addDependency(m *mutation, is, target *models.Issue, typ models.DependencyType) (bool, error) {
	const op = "add dependency"
	if typ == "" {
		typ = models.DepBlocks
	}
	if !models.IsValidDependencyType(typ) {
		return false, validationErr(op, "invalid dependency type %q", typ)
	}
	if is.ID == target.ID {
		return false, validationErr(op, "issue %s cannot depend on itself", is.ShortID)
	}

	var existing string
	err := m.tx.QueryRow(`SELECT dependency_type FROM issue_dependencies WHERE issue_id = ? AND depends_on_id = ?`,
		is.ID, target.ID).Scan(&existing)
	switch {
	case err == nil && models.DependencyType(existing) == typ:
		return false, nil
	case err == nil:
		return false, conflictErr(op, EntityIssue, is.ShortID, "already has a %s edge to %s", existing, target.ShortID)
	case err != sql.ErrNoRows:
		return false, err
	}

	switch typ {
	case models.DepParentChild:
		var parents int
		if err := m.tx.QueryRow(`SELECT COUNT(*) FROM issue_dependencies WHERE issue_id = ? AND dependency_type = ?`,
			is.ID, models.DepParentChild).Scan(&parents); err != nil {
			return false, err
		}
		if parents > 0 {
			return false, conflictErr(op, EntityIssue, is.ShortID, "already has a parent")
		}
		cycle, err := reaches(m.tx, target.ID, is.ID, models.DepParentChild)
		if err != nil {
			return false, err
		}
		if cycle {
			return false, conflictErr(op, EntityIssue, is.ShortID, "%s is its descendant", target.ShortID)
		}
	case models.DepBlocks:
		cycle, err := reaches(m.tx, target.ID, is.ID, models.DepBlocks)
		if err != nil {
			return false, err
		}
		if cycle {
			return false, conflictErr(op, EntityIssue, is.ShortID, "blocking %s would create a cycle", target.ShortID)
		}
	}

	if _, err := m.tx.Exec(`INSERT INTO issue_dependencies (issue_id, depends_on_id, dependency_type, created_at)
		VALUES (?, ?, ?, ?)`, is.ID, target.ID, typ, toMillis(m.now)); err != nil {
		return false, err
	}
	m.record(EntityIssue, is.ID, EventDependencyAdded, "", string(typ)+":"+target.ID)

	// A new open blocker blocks the dependent. The reverse is not automatic:
	// removing the edge or closing the blocker leaves the status alone.
	if typ == models.DepBlocks && target.Status != models.StatusClosed &&
		is.Status != models.StatusClosed && is.Status != models.StatusBlocked {
		applyStatus(m, is, models.StatusBlocked)
		is.UpdatedAt = m.now
		if err := writeIssue(m, is); err != nil {
			return false, err
		}
	}
	return true, nil
}

// AddDependency records that issueRef depends on dependsOnRef. typ defaults
// to blocks.
func (db *DB) AddDependency(issueRef, dependsOnRef string, typ models.DependencyType, actor string) error {
	const op = "add dependency"
	if typ != "" && !models.IsValidDependencyType(typ) {
		return validationErr(op, "invalid dependency type %q", typ)
	}
	return db.mutate(op, actor, func(m *mutation) error {
		is, err := resolveIssue(m.tx, issueRef, "")
		if err != nil {
			return err
		}
		target, err := resolveIssue(m.tx, dependsOnRef, is.ProjectPath)
		if err != nil {
			return err
		}
		_, err = addDependency(m, is, target, typ)
		return err
	})
}

// RemoveDependency deletes the edge between two issues. The dependent's
// status is not changed.
func (db *DB) RemoveDependency(issueRef, dependsOnRef, actor string) error {
	const op = "remove dependency"
	return db.mutate(op, actor, func(m *mutation) error {
		is, err := resolveIssue(m.tx, issueRef, "")
		if err != nil {
			return err
		}
		target, err := resolveIssue(m.tx, dependsOnRef, is.ProjectPath)
		if err != nil {
			return err
		}
		var typ string
		err = m.tx.QueryRow(`DELETE FROM issue_dependencies WHERE issue_id = ? AND depends_on_id = ?
			RETURNING dependency_type`, is.ID, target.ID).Scan(&typ)
		if err == sql.ErrNoRows {
			return notFoundErr(op, "dependency", is.ShortID+" -> "+target.ShortID)
		}
		if err != nil {
			return err
		}
		m.record(EntityIssue, is.ID, EventDependencyRemoved, typ+":"+target.ID, "")
		return nil
	})
}

func queryDependencies(q queryer, query string, args ...any) ([]models.Dependency, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []models.Dependency
	for rows.Next() {
		var d models.Dependency
		var typ string
		var created int64
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &typ, &created); err != nil {
			return nil, err
		}
		d.Type = models.DependencyType(typ)
		d.CreatedAt = fromMillis(created)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// Dependencies returns the outgoing edges of an issue
func (db *DB) Dependencies(ref string) ([]models.Dependency, error) {
	is, err := resolveIssue(db.conn, ref, "")
	if err != nil {
		return nil, classify("dependencies", err)
	}
	deps, err := queryDependencies(db.conn, `SELECT issue_id, depends_on_id, dependency_type, created_at
		FROM issue_dependencies WHERE issue_id = ? ORDER BY created_at, rowid`, is.ID)
	return deps, classify("dependencies", err)
}

// Dependents returns the incoming edges of an issue
func (db *DB) Dependents(ref string) ([]models.Dependency, error) {
	is, err := resolveIssue(db.conn, ref, "")
	if err != nil {
		return nil, classify("dependents", err)
	}
	deps, err := queryDependencies(db.conn, `SELECT issue_id, depends_on_id, dependency_type, created_at
		FROM issue_dependencies WHERE depends_on_id = ? ORDER BY created_at, rowid`, is.ID)
	return deps, classify("dependents", err)
}

func parentOf(q queryer, id string) (*models.Issue, error) {
	var parentID string
	err := q.QueryRow(`SELECT depends_on_id FROM issue_dependencies WHERE issue_id = ? AND dependency_type = ?`,
		id, models.DepParentChild).Scan(&parentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loadIssue(q, parentID)
}

// Parent returns the issue's parent, or nil for a root issue
func (db *DB) Parent(ref string) (*models.Issue, error) {
	is, err := resolveIssue(db.conn, ref, "")
	if err != nil {
		return nil, classify("parent", err)
	}
	p, err := parentOf(db.conn, is.ID)
	return p, classify("parent", err)
}

// Children returns the direct children of an issue in creation order
func (db *DB) Children(ref string) ([]models.Issue, error) {
	is, err := resolveIssue(db.conn, ref, "")
	if err != nil {
		return nil, classify("children", err)
	}
	children, err := queryIssues(db.conn, `SELECT `+issueColumns+` FROM issues i
		JOIN issue_dependencies d ON d.issue_id = i.id
		WHERE d.depends_on_id = ? AND d.dependency_type = 'parent-child'
		ORDER BY i.created_at, i.rowid`, is.ID)
	return children, classify("children", err)
}

// IssueTree is an issue with its parent-child descendants
type IssueTree struct {
	Issue    models.Issue `json:"issue"`
	Children []IssueTree  `json:"children,omitempty"`
}

// Tree returns the parent-child subtree rooted at ref
func (db *DB) Tree(ref string) (*IssueTree, error) {
	root, err := db.GetIssue(ref)
	if err != nil {
		return nil, err
	}
	return db.buildTree(*root, make(map[string]bool))
}

func (db *DB) buildTree(is models.Issue, seen map[string]bool) (*IssueTree, error) {
	node := &IssueTree{Issue: is}
	if seen[is.ID] {
		return node, nil
	}
	seen[is.ID] = true
	children, err := db.Children(is.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		child, err := db.buildTree(c, seen)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, *child)
	}
	return node, nil
}
