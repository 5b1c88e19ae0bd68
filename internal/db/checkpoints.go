package db

import (
	"database/sql"
	"strings"

	"github.com/marcus/savecontext/internal/models"
)

const checkpointColumns = `id, session_id, name, description, git_branch, git_status, item_count, total_size, created_at`

const checkpointItemColumns = `checkpoint_id, context_item_id, key, value, category, priority, channel, tags, size`

// CreateCheckpointInput describes a new checkpoint. A nil Filter captures
// every item of the session.
type CreateCheckpointInput struct {
	SessionID   string
	Name        string
	Description string
	GitBranch   string
	GitStatus   string
	Filter      *models.ItemFilter
	Actor       string
}

// CheckpointSplit names one output of SplitCheckpoint
type CheckpointSplit struct {
	Name        string
	Description string
	Filter      *models.ItemFilter
}

func scanCheckpoint(row interface{ Scan(...any) error }) (*models.Checkpoint, error) {
	var c models.Checkpoint
	var created int64
	err := row.Scan(&c.ID, &c.SessionID, &c.Name, &c.Description, &c.GitBranch, &c.GitStatus,
		&c.ItemCount, &c.TotalSize, &created)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func getCheckpoint(q queryer, id string) (*models.Checkpoint, error) {
	c, err := scanCheckpoint(q.QueryRow(`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFoundErr("get checkpoint", EntityCheckpoint, id)
	}
	return c, err
}

func checkpointItems(q queryer, id string) ([]models.CheckpointItem, error) {
	rows, err := q.Query(`SELECT `+checkpointItemColumns+` FROM checkpoint_items WHERE checkpoint_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.CheckpointItem
	for rows.Next() {
		var ci models.CheckpointItem
		var source sql.NullString
		var category, priority string
		if err := rows.Scan(&ci.CheckpointID, &source, &ci.Key, &ci.Value, &category, &priority,
			&ci.Channel, &ci.Tags, &ci.Size); err != nil {
			return nil, err
		}
		ci.SourceItemID = source.String
		ci.Category = models.Category(category)
		ci.Priority = models.ItemPriority(priority)
		items = append(items, ci)
	}
	return items, rows.Err()
}

// putSnapshot stores a copy of an item in a checkpoint, refreshing the copy
// if the key is already captured. It reports whether a new row was added.
func putSnapshot(m *mutation, checkpointID string, ci models.CheckpointItem) (bool, error) {
	var exists int
	err := m.tx.QueryRow(`SELECT COUNT(*) FROM checkpoint_items WHERE checkpoint_id = ? AND key = ?`,
		checkpointID, ci.Key).Scan(&exists)
	if err != nil {
		return false, err
	}
	_, err = m.tx.Exec(`INSERT INTO checkpoint_items (`+checkpointItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkpoint_id, key) DO UPDATE SET
			context_item_id = excluded.context_item_id,
			value = excluded.value,
			category = excluded.category,
			priority = excluded.priority,
			channel = excluded.channel,
			tags = excluded.tags,
			size = excluded.size`,
		checkpointID, nullString(ci.SourceItemID), ci.Key, ci.Value, ci.Category, ci.Priority, ci.Channel, ci.Tags, ci.Size)
	if err != nil {
		return false, err
	}
	return exists == 0, nil
}

func snapshotOf(it *models.ContextItem) models.CheckpointItem {
	return models.CheckpointItem{
		SourceItemID: it.ID,
		Key:          it.Key,
		Value:        it.Value,
		Category:     it.Category,
		Priority:     it.Priority,
		Channel:      it.Channel,
		Tags:         it.Tags,
		Size:         it.Size,
	}
}

// refreshCheckpointStats recomputes the cached count and size from the
// checkpoint's rows. Every membership change must call it.
func refreshCheckpointStats(m *mutation, id string) error {
	_, err := m.tx.Exec(`UPDATE checkpoints SET
		item_count = (SELECT COUNT(*) FROM checkpoint_items WHERE checkpoint_id = ?),
		total_size = (SELECT COALESCE(SUM(size), 0) FROM checkpoint_items WHERE checkpoint_id = ?)
		WHERE id = ?`, id, id, id)
	return err
}

func insertCheckpoint(m *mutation, c *models.Checkpoint) error {
	_, err := m.tx.Exec(`INSERT INTO checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		c.ID, c.SessionID, c.Name, c.Description, c.GitBranch, c.GitStatus, toMillis(c.CreatedAt))
	return err
}

// CreateCheckpoint snapshots every current item of the session that matches
// the filter. The checkpoint holds copies, so later edits or deletions of
// the live items do not change it.
func (db *DB) CreateCheckpoint(in CreateCheckpointInput) (*models.Checkpoint, error) {
	const op = "create checkpoint"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErr(op, "checkpoint name is required")
	}

	var cp *models.Checkpoint
	err := db.mutate(op, in.Actor, func(m *mutation) error {
		if err := sessionExists(m.tx, op, in.SessionID); err != nil {
			return err
		}
		items, err := sessionItems(m.tx, in.SessionID)
		if err != nil {
			return err
		}

		c := &models.Checkpoint{
			ID:          newID(checkpointIDPrefix),
			SessionID:   in.SessionID,
			Name:        name,
			Description: in.Description,
			GitBranch:   in.GitBranch,
			GitStatus:   in.GitStatus,
			CreatedAt:   m.now,
		}
		if err := insertCheckpoint(m, c); err != nil {
			return err
		}
		for i := range items {
			if !in.Filter.MatchItem(&items[i]) {
				continue
			}
			if _, err := putSnapshot(m, c.ID, snapshotOf(&items[i])); err != nil {
				return err
			}
		}
		if err := refreshCheckpointStats(m, c.ID); err != nil {
			return err
		}
		if cp, err = getCheckpoint(m.tx, c.ID); err != nil {
			return err
		}
		m.record(EntityCheckpoint, cp.ID, EventCreated, "", snapshot(cp))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// GetCheckpoint returns a checkpoint's header
func (db *DB) GetCheckpoint(id string) (*models.Checkpoint, error) {
	c, err := getCheckpoint(db.conn, id)
	return c, classify("get checkpoint", err)
}

// CheckpointItems returns the items captured by a checkpoint
func (db *DB) CheckpointItems(id string) ([]models.CheckpointItem, error) {
	const op = "checkpoint items"
	if _, err := getCheckpoint(db.conn, id); err != nil {
		return nil, classify(op, err)
	}
	items, err := checkpointItems(db.conn, id)
	return items, classify(op, err)
}

// ListCheckpoints returns a session's checkpoints, newest first
func (db *DB) ListCheckpoints(sessionID string, limit int) ([]models.Checkpoint, error) {
	const op = "list checkpoints"
	if limit < 0 {
		return nil, validationErr(op, "limit must not be negative")
	}
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var cps []models.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, *c)
	}
	return cps, rows.Err()
}

// LatestCheckpoint returns the session's newest checkpoint, or nil
func (db *DB) LatestCheckpoint(sessionID string) (*models.Checkpoint, error) {
	cps, err := db.ListCheckpoints(sessionID, 1)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return &cps[0], nil
}

// RestoreCheckpoint replaces ALL items of the target session with the
// checkpoint's items that match filter. Items the target had before are
// deleted even when the checkpoint does not contain them. Restored items get
// fresh ids and timestamps. It returns the number of items restored.
func (db *DB) RestoreCheckpoint(id, targetSessionID string, filter *models.ItemFilter, actor string) (int, error) {
	const op = "restore checkpoint"
	restored := 0
	err := db.mutate(op, actor, func(m *mutation) error {
		if _, err := getCheckpoint(m.tx, id); err != nil {
			return err
		}
		if err := sessionExists(m.tx, op, targetSessionID); err != nil {
			return err
		}
		snap, err := checkpointItems(m.tx, id)
		if err != nil {
			return err
		}

		res, err := m.tx.Exec(`DELETE FROM context_items WHERE session_id = ?`, targetSessionID)
		if err != nil {
			return err
		}
		removed, _ := res.RowsAffected()

		for _, ci := range snap {
			if !filter.Matches(ci.Key, ci.Category, ci.Tags) {
				continue
			}
			it := &models.ContextItem{
				ID:        newID(itemIDPrefix),
				SessionID: targetSessionID,
				Key:       ci.Key,
				Value:     ci.Value,
				Category:  ci.Category,
				Priority:  ci.Priority,
				Channel:   ci.Channel,
				Tags:      ci.Tags,
				Size:      models.ItemSize(ci.Key, ci.Value),
				CreatedAt: m.now,
				UpdatedAt: m.now,
			}
			if err := insertItem(m, it); err != nil {
				return err
			}
			restored++
		}
		m.record(EntityCheckpoint, id, EventRestored, snapshot(map[string]any{"session_id": targetSessionID, "removed": removed}),
			snapshot(map[string]any{"restored": restored}))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

func checkSessionMatches(op string, cp *models.Checkpoint, sessionID string) error {
	if cp.SessionID != sessionID {
		return validationErr(op, "checkpoint %s belongs to session %s, not %s", cp.ID, cp.SessionID, sessionID)
	}
	return nil
}

// AddCheckpointItems captures the session's current items under keys into
// the checkpoint. Keys absent from the session are skipped; keys already
// captured are refreshed but not counted. It returns how many were added.
func (db *DB) AddCheckpointItems(id, sessionID string, keys []string, actor string) (int, error) {
	const op = "add checkpoint items"
	if len(keys) == 0 {
		return 0, validationErr(op, "at least one key is required")
	}
	added := 0
	err := db.mutate(op, actor, func(m *mutation) error {
		cp, err := getCheckpoint(m.tx, id)
		if err != nil {
			return err
		}
		if err := checkSessionMatches(op, cp, sessionID); err != nil {
			return err
		}
		for _, key := range keys {
			it, err := getItem(m.tx, sessionID, key)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			isNew, err := putSnapshot(m, id, snapshotOf(it))
			if err != nil {
				return err
			}
			if isNew {
				added++
			}
		}
		if err := refreshCheckpointStats(m, id); err != nil {
			return err
		}
		m.record(EntityCheckpoint, id, EventUpdated, "", snapshot(map[string]any{"added": added}))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// RemoveCheckpointItems drops keys from the checkpoint. Keys are resolved
// against the session, so a key no longer present in the session is skipped
// even if the checkpoint holds it. It returns how many were removed.
func (db *DB) RemoveCheckpointItems(id, sessionID string, keys []string, actor string) (int, error) {
	const op = "remove checkpoint items"
	if len(keys) == 0 {
		return 0, validationErr(op, "at least one key is required")
	}
	removed := 0
	err := db.mutate(op, actor, func(m *mutation) error {
		cp, err := getCheckpoint(m.tx, id)
		if err != nil {
			return err
		}
		if err := checkSessionMatches(op, cp, sessionID); err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := getItem(m.tx, sessionID, key); err != nil {
				if isNotFound(err) {
					continue
				}
				return err
			}
			res, err := m.tx.Exec(`DELETE FROM checkpoint_items WHERE checkpoint_id = ? AND key = ?`, id, key)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		if err := refreshCheckpointStats(m, id); err != nil {
			return err
		}
		m.record(EntityCheckpoint, id, EventUpdated, snapshot(map[string]any{"removed": removed}), "")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// SplitCheckpoint creates one new checkpoint per split from the source
// checkpoint's items. Each split filters independently, so an item matching
// several filters lands in several checkpoints.
func (db *DB) SplitCheckpoint(sourceID string, splits []CheckpointSplit, actor string) ([]models.Checkpoint, error) {
	const op = "split checkpoint"
	if len(splits) == 0 {
		return nil, validationErr(op, "at least one split is required")
	}
	for i, s := range splits {
		if strings.TrimSpace(s.Name) == "" {
			return nil, validationErr(op, "split %d has no name", i+1)
		}
	}

	var created []models.Checkpoint
	err := db.mutate(op, actor, func(m *mutation) error {
		src, err := getCheckpoint(m.tx, sourceID)
		if err != nil {
			return err
		}
		snap, err := checkpointItems(m.tx, sourceID)
		if err != nil {
			return err
		}
		for _, s := range splits {
			c := &models.Checkpoint{
				ID:          newID(checkpointIDPrefix),
				SessionID:   src.SessionID,
				Name:        strings.TrimSpace(s.Name),
				Description: s.Description,
				GitBranch:   src.GitBranch,
				GitStatus:   src.GitStatus,
				CreatedAt:   m.now,
			}
			if err := insertCheckpoint(m, c); err != nil {
				return err
			}
			for _, ci := range snap {
				if !s.Filter.Matches(ci.Key, ci.Category, ci.Tags) {
					continue
				}
				if _, err := putSnapshot(m, c.ID, ci); err != nil {
					return err
				}
			}
			if err := refreshCheckpointStats(m, c.ID); err != nil {
				return err
			}
			out, err := getCheckpoint(m.tx, c.ID)
			if err != nil {
				return err
			}
			m.record(EntityCheckpoint, out.ID, EventCreated, sourceID, snapshot(out))
			created = append(created, *out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteCheckpoint removes a checkpoint and its captured copies. Live
// context items are never touched.
func (db *DB) DeleteCheckpoint(id, actor string) error {
	const op = "delete checkpoint"
	return db.mutate(op, actor, func(m *mutation) error {
		cp, err := getCheckpoint(m.tx, id)
		if err != nil {
			return err
		}
		if _, err := m.tx.Exec(`DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
			return err
		}
		m.record(EntityCheckpoint, id, EventDeleted, snapshot(cp), "")
		return nil
	})
}
