package db

import (
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

// normalizeLabels lowercases, trims and dedupes labels, dropping blanks
func normalizeLabels(labels []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func issueLabels(q queryer, issueID string) ([]string, error) {
	rows, err := q.Query(`SELECT label FROM issue_labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func addLabels(m *mutation, issueID string, labels []string) (int, error) {
	added := 0
	for _, l := range normalizeLabels(labels) {
		res, err := m.tx.Exec(`INSERT OR IGNORE INTO issue_labels (issue_id, label) VALUES (?, ?)`, issueID, l)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	return added, nil
}

func (db *DB) changeLabels(op, ref string, labels []string, actor string, add bool) (*models.Issue, error) {
	norm := normalizeLabels(labels)
	if len(norm) == 0 {
		return nil, validationErr(op, "at least one label is required")
	}
	var is *models.Issue
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		is, err = resolveIssue(m.tx, ref, "")
		if err != nil {
			return err
		}
		before := strings.Join(is.Labels, ",")
		changed := 0
		if add {
			changed, err = addLabels(m, is.ID, norm)
			if err != nil {
				return err
			}
		} else {
			for _, l := range norm {
				res, err := m.tx.Exec(`DELETE FROM issue_labels WHERE issue_id = ? AND label = ?`, is.ID, l)
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				changed += int(n)
			}
		}
		if changed > 0 {
			if _, err := m.tx.Exec(`UPDATE issues SET updated_at = ? WHERE id = ?`, toMillis(m.now), is.ID); err != nil {
				return err
			}
		}
		if is, err = loadIssue(m.tx, is.ID); err != nil {
			return err
		}
		if changed > 0 {
			m.record(EntityIssue, is.ID, EventLabelsChanged, before, strings.Join(is.Labels, ","))
		}
		return nil
	})
	return is, err
}

// AddLabels attaches labels to an issue; existing labels are kept
func (db *DB) AddLabels(ref string, labels []string, actor string) (*models.Issue, error) {
	return db.changeLabels("add labels", ref, labels, actor, true)
}

// RemoveLabels detaches labels from an issue; absent labels are ignored
func (db *DB) RemoveLabels(ref string, labels []string, actor string) (*models.Issue, error) {
	return db.changeLabels("remove labels", ref, labels, actor, false)
}

// ProjectLabels returns the distinct labels in use in a project with counts
func (db *DB) ProjectLabels(projectPath string) (map[string]int, error) {
	projectPath = workdir.NormalizePath(projectPath)
	rows, err := db.conn.Query(`SELECT l.label, COUNT(*) FROM issue_labels l
		JOIN issues i ON i.id = l.issue_id WHERE i.project_path = ? GROUP BY l.label`, projectPath)
	if err != nil {
		return nil, classify("project labels", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var l string
		var n int
		if err := rows.Scan(&l, &n); err != nil {
			return nil, err
		}
		counts[l] = n
	}
	return counts, rows.Err()
}
