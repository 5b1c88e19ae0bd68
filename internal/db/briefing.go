package db

import (
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

// Compaction summary limits
const (
	compactHighLimit     = 50
	compactHighShown     = 5
	compactReminderLimit = 20
	compactNextSteps     = 5
	compactDecisionLimit = 20
	compactDecisionShown = 10
	compactProgressLimit = 10
	compactProgressShown = 3
)

// Primer limits
const (
	primeHighLimit     = 10
	primeDecisionLimit = 10
	primeReminderLimit = 10
	primeProgressLimit = 5
	primeIssueLimit    = 10
	primeMemoryLimit   = 20
)

// ItemStats counts a session's items by category and priority
type ItemStats struct {
	Total        int                     `json:"item_count"`
	HighPriority int                     `json:"high_priority_count"`
	TotalSize    int                     `json:"total_size"`
	ByCategory   map[models.Category]int `json:"categories"`
}

// ItemStats returns item counts for a session. Every category is present in
// ByCategory, zero when the session has none.
func (db *DB) ItemStats(sessionID string) (*ItemStats, error) {
	const op = "item stats"
	if err := sessionExists(db.conn, op, sessionID); err != nil {
		return nil, classify(op, err)
	}
	stats := &ItemStats{ByCategory: map[models.Category]int{
		models.CategoryReminder: 0,
		models.CategoryDecision: 0,
		models.CategoryProgress: 0,
		models.CategoryNote:     0,
	}}
	rows, err := db.conn.Query(`SELECT category, priority, COUNT(*), COALESCE(SUM(size), 0)
		FROM context_items WHERE session_id = ? GROUP BY category, priority`, sessionID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var category, priority string
		var n, size int
		if err := rows.Scan(&category, &priority, &n, &size); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.TotalSize += size
		stats.ByCategory[models.Category(category)] += n
		if models.ItemPriority(priority) == models.ItemPriorityHigh {
			stats.HighPriority += n
		}
	}
	return stats, rows.Err()
}

// CompactInput describes a compaction of a session
type CompactInput struct {
	SessionID string
	GitBranch string
	GitStatus string
	Actor     string
}

// CompactionSummary is the critical context carried across a compaction
type CompactionSummary struct {
	HighPriority []models.ContextItem `json:"high_priority_items"`
	NextSteps    []models.ContextItem `json:"next_steps"`
	Decisions    []models.ContextItem `json:"key_decisions"`
	Progress     []models.ContextItem `json:"recent_progress"`
}

// Compaction is the result of Compact
type Compaction struct {
	Checkpoint    *models.Checkpoint `json:"checkpoint"`
	CriticalCount int                `json:"critical_items"`
	PendingCount  int                `json:"pending_tasks"`
	DecisionCount int                `json:"decisions_made"`
	Summary       CompactionSummary  `json:"critical_context"`
}

// Compact checkpoints every item of a session under a pre-compact-{stamp}
// name and summarizes what must survive the compaction.
func (db *DB) Compact(in CompactInput) (*Compaction, error) {
	name := "pre-compact-" + db.now().UTC().Format("20060102-150405")
	cp, err := db.CreateCheckpoint(CreateCheckpointInput{
		SessionID:   in.SessionID,
		Name:        name,
		Description: "Automatic checkpoint before context compaction",
		GitBranch:   in.GitBranch,
		GitStatus:   in.GitStatus,
		Actor:       in.Actor,
	})
	if err != nil {
		return nil, err
	}

	high, err := db.ListItems(in.SessionID, ItemListFilter{Priority: models.ItemPriorityHigh, Limit: compactHighLimit})
	if err != nil {
		return nil, err
	}
	reminders, err := db.ListItems(in.SessionID, ItemListFilter{Category: models.CategoryReminder, Limit: compactReminderLimit})
	if err != nil {
		return nil, err
	}
	decisions, err := db.ListItems(in.SessionID, ItemListFilter{Category: models.CategoryDecision, Limit: compactDecisionLimit})
	if err != nil {
		return nil, err
	}
	progress, err := db.ListItems(in.SessionID, ItemListFilter{Category: models.CategoryProgress, Limit: compactProgressLimit})
	if err != nil {
		return nil, err
	}

	var next []models.ContextItem
	for _, r := range reminders {
		if len(next) == compactNextSteps {
			break
		}
		if isFinished(r.Value) {
			continue
		}
		next = append(next, r)
	}

	return &Compaction{
		Checkpoint:    cp,
		CriticalCount: len(high),
		PendingCount:  len(next),
		DecisionCount: len(decisions),
		Summary: CompactionSummary{
			HighPriority: head(high, compactHighShown),
			NextSteps:    next,
			Decisions:    head(decisions, compactDecisionShown),
			Progress:     head(progress, compactProgressShown),
		},
	}, nil
}

// isFinished reports whether a reminder reads as already done
func isFinished(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, "completed") || strings.Contains(v, "done")
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Primer is a read-only digest of a project for starting work
type Primer struct {
	ProjectPath string               `json:"project_path"`
	Session     *models.Session      `json:"session,omitempty"`
	Stats       *ItemStats           `json:"stats,omitempty"`
	HighItems   []models.ContextItem `json:"high_priority,omitempty"`
	Decisions   []models.ContextItem `json:"decisions,omitempty"`
	Reminders   []models.ContextItem `json:"reminders,omitempty"`
	Progress    []models.ContextItem `json:"progress,omitempty"`
	InProgress  []models.Issue       `json:"in_progress,omitempty"`
	Ready       []models.Issue       `json:"ready,omitempty"`
	OpenIssues  int                  `json:"open_issues"`
	Memory      []models.Memory      `json:"memory,omitempty"`
}

// Prime gathers the primer for projectPath. Session context is included
// only when sessionID is set; it never writes.
func (db *DB) Prime(projectPath, sessionID string) (*Primer, error) {
	const op = "prime"
	projectPath = workdir.NormalizePath(projectPath)
	if projectPath == "" {
		return nil, validationErr(op, "project path is required")
	}
	p := &Primer{ProjectPath: projectPath}

	if sessionID != "" {
		sess, err := db.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		p.Session = sess
		if p.Stats, err = db.ItemStats(sessionID); err != nil {
			return nil, err
		}
		lists := []struct {
			dst *[]models.ContextItem
			f   ItemListFilter
		}{
			{&p.HighItems, ItemListFilter{Priority: models.ItemPriorityHigh, Limit: primeHighLimit}},
			{&p.Decisions, ItemListFilter{Category: models.CategoryDecision, Limit: primeDecisionLimit}},
			{&p.Reminders, ItemListFilter{Category: models.CategoryReminder, Limit: primeReminderLimit}},
			{&p.Progress, ItemListFilter{Category: models.CategoryProgress, Limit: primeProgressLimit}},
		}
		for _, l := range lists {
			if *l.dst, err = db.ListItems(sessionID, l.f); err != nil {
				return nil, err
			}
		}
	}

	var err error
	p.InProgress, err = db.ListIssues(IssueFilter{
		ProjectPath: projectPath,
		Status:      string(models.StatusInProgress),
		Limit:       primeIssueLimit,
	})
	if err != nil {
		return nil, err
	}
	if p.Ready, err = db.Ready(ReadyOptions{ProjectPath: projectPath, Limit: primeIssueLimit}); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM issues WHERE project_path = ? AND status != 'closed'`,
		projectPath).Scan(&p.OpenIssues); err != nil {
		return nil, classify(op, err)
	}
	mem, err := db.ListMemory(projectPath, "")
	if err != nil {
		return nil, err
	}
	p.Memory = head(mem, primeMemoryLimit)
	return p, nil
}
