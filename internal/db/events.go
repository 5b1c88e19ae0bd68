package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/marcus/savecontext/internal/models"
)

// Entity types recorded in the audit log
const (
	EntitySession    = "session"
	EntityItem       = "context_item"
	EntityCheckpoint = "checkpoint"
	EntityIssue      = "issue"
	EntityPlan       = "plan"
	EntityProject    = "project"
	EntityMemory     = "memory"
)

// Event types recorded in the audit log
const (
	EventCreated           = "created"
	EventUpdated           = "updated"
	EventDeleted           = "deleted"
	EventStatusChanged     = "status_changed"
	EventDependencyAdded   = "dependency_added"
	EventDependencyRemoved = "dependency_removed"
	EventLabelsChanged     = "labels_changed"
	EventClaimed           = "claimed"
	EventReleased          = "released"
	EventRestored          = "restored"
	EventPathAdded         = "path_added"
	EventPathRemoved       = "path_removed"
)

func insertEvents(tx *sql.Tx, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO events (entity_type, entity_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(e.EntityType, e.EntityID, e.EventType, e.Actor, e.OldValue, e.NewValue, toMillis(e.CreatedAt)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// snapshot renders v as JSON for the audit log, or "" if it cannot
func snapshot(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// EventFilter narrows ListEvents
type EventFilter struct {
	EntityType string
	EntityID   string
	Limit      int
}

// ListEvents returns audit events, newest first
func (db *DB) ListEvents(f EventFilter) ([]models.Event, error) {
	if f.Limit < 0 {
		return nil, validationErr("list events", "limit must not be negative")
	}
	query := `SELECT id, entity_type, entity_id, event_type, actor, old_value, new_value, created_at FROM events WHERE 1=1`
	var args []any
	if f.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify("list events", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var created int64
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType, &e.Actor, &e.OldValue, &e.NewValue, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}
