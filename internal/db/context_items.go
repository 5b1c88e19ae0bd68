package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/marcus/savecontext/internal/models"
)

const itemColumns = `id, session_id, key, value, category, priority, channel, tags, size, created_at, updated_at`

// SaveItemInput describes a context item to upsert. Empty Category,
// Priority and Channel fall back to note, normal and general. A nil Tags
// keeps an existing item's tags; a non-nil Tags replaces them.
type SaveItemInput struct {
	SessionID string
	Key       string
	Value     string
	Category  models.Category
	Priority  models.ItemPriority
	Channel   string
	Tags      []string
	Actor     string
}

// ItemListFilter narrows ListItems
type ItemListFilter struct {
	Category models.Category
	Priority models.ItemPriority
	Channel  string
	Limit    int
	Offset   int
}

// ItemUpdate is a partial patch of a context item; nil fields are unchanged
type ItemUpdate struct {
	Value    *string
	Category *models.Category
	Priority *models.ItemPriority
	Channel  *string
	Tags     *[]string
}

// TagAction selects whether TagItems adds or removes tags
type TagAction string

const (
	TagAdd    TagAction = "add"
	TagRemove TagAction = "remove"
)

// TagRequest selects items by exact keys and/or a '*' key pattern
type TagRequest struct {
	Keys       []string
	KeyPattern string
	Tags       []string
	Action     TagAction
}

func scanItem(row interface{ Scan(...any) error }) (*models.ContextItem, error) {
	var it models.ContextItem
	var category, priority string
	var created, updated int64
	err := row.Scan(&it.ID, &it.SessionID, &it.Key, &it.Value, &category, &priority, &it.Channel,
		&it.Tags, &it.Size, &created, &updated)
	if err != nil {
		return nil, err
	}
	it.Category = models.Category(category)
	it.Priority = models.ItemPriority(priority)
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(updated)
	return &it, nil
}

// itemKey trims key and rejects an empty one
func itemKey(op, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", validationErr(op, "key is required")
	}
	return key, nil
}

func getItem(q queryer, sessionID, key string) (*models.ContextItem, error) {
	it, err := scanItem(q.QueryRow(`SELECT `+itemColumns+` FROM context_items WHERE session_id = ? AND key = ?`,
		sessionID, key))
	if err == sql.ErrNoRows {
		return nil, notFoundErr("get context item", EntityItem, key)
	}
	return it, err
}

func sessionItems(q queryer, sessionID string) ([]models.ContextItem, error) {
	rows, err := q.Query(`SELECT `+itemColumns+` FROM context_items WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func sessionExists(q queryer, op, sessionID string) error {
	var one int
	err := q.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if err == sql.ErrNoRows {
		return notFoundErr(op, EntitySession, sessionID)
	}
	return err
}

func validateItemEnums(op string, c models.Category, p models.ItemPriority) error {
	if !models.IsValidCategory(c) {
		return validationErr(op, "invalid category %q", c)
	}
	if !models.IsValidItemPriority(p) {
		return validationErr(op, "invalid priority %q", p)
	}
	return nil
}

// insertItem writes a brand new item row
func insertItem(m *mutation, it *models.ContextItem) error {
	_, err := m.tx.Exec(`INSERT INTO context_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.SessionID, it.Key, it.Value, it.Category, it.Priority, it.Channel, it.Tags, it.Size,
		toMillis(it.CreatedAt), toMillis(it.UpdatedAt))
	return err
}

func writeItem(m *mutation, it *models.ContextItem) error {
	_, err := m.tx.Exec(`UPDATE context_items SET value = ?, category = ?, priority = ?, channel = ?, tags = ?,
		size = ?, updated_at = ? WHERE id = ?`,
		it.Value, it.Category, it.Priority, it.Channel, it.Tags, it.Size, toMillis(it.UpdatedAt), it.ID)
	return err
}

// SaveItem upserts a context item by (session, key). Saving an existing key
// overwrites value, category, priority and channel in place.
func (db *DB) SaveItem(in SaveItemInput) (*models.ContextItem, error) {
	const op = "save context item"
	key, err := itemKey(op, in.Key)
	if err != nil {
		return nil, err
	}
	if in.Category == "" {
		in.Category = models.CategoryNote
	}
	if in.Priority == "" {
		in.Priority = models.ItemPriorityNormal
	}
	if in.Channel == "" {
		in.Channel = models.DefaultChannel
	}
	if err := validateItemEnums(op, in.Category, in.Priority); err != nil {
		return nil, err
	}

	var item *models.ContextItem
	err = db.mutate(op, in.Actor, func(m *mutation) error {
		if err := sessionExists(m.tx, op, in.SessionID); err != nil {
			return err
		}
		existing, err := getItem(m.tx, in.SessionID, key)
		if err != nil && !isNotFound(err) {
			return err
		}

		if existing != nil {
			before := snapshot(existing)
			existing.Value = in.Value
			existing.Category = in.Category
			existing.Priority = in.Priority
			existing.Channel = in.Channel
			if in.Tags != nil {
				existing.Tags = models.NewTagSet(in.Tags...)
			}
			existing.Size = models.ItemSize(existing.Key, existing.Value)
			existing.UpdatedAt = m.now
			if err := writeItem(m, existing); err != nil {
				return err
			}
			m.record(EntityItem, existing.ID, EventUpdated, before, snapshot(existing))
			item = existing
			return nil
		}

		item = &models.ContextItem{
			ID:        newID(itemIDPrefix),
			SessionID: in.SessionID,
			Key:       key,
			Value:     in.Value,
			Category:  in.Category,
			Priority:  in.Priority,
			Channel:   in.Channel,
			Tags:      models.NewTagSet(in.Tags...),
			Size:      models.ItemSize(key, in.Value),
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		if err := insertItem(m, item); err != nil {
			return err
		}
		m.record(EntityItem, item.ID, EventCreated, "", snapshot(item))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetItem returns the item stored under key in a session
func (db *DB) GetItem(sessionID, key string) (*models.ContextItem, error) {
	const op = "get context item"
	key, err := itemKey(op, key)
	if err != nil {
		return nil, err
	}
	it, err := getItem(db.conn, sessionID, key)
	return it, classify(op, err)
}

// ListItems returns a session's items, newest first
func (db *DB) ListItems(sessionID string, f ItemListFilter) ([]models.ContextItem, error) {
	const op = "list context items"
	if f.Limit < 0 || f.Offset < 0 {
		return nil, validationErr(op, "limit and offset must not be negative")
	}
	if f.Category != "" && !models.IsValidCategory(f.Category) {
		return nil, validationErr(op, "invalid category %q", f.Category)
	}
	if f.Priority != "" && !models.IsValidItemPriority(f.Priority) {
		return nil, validationErr(op, "invalid priority %q", f.Priority)
	}
	if err := sessionExists(db.conn, op, sessionID); err != nil {
		return nil, classify(op, err)
	}

	query := `SELECT ` + itemColumns + ` FROM context_items WHERE session_id = ?`
	args := []any{sessionID}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	if f.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, f.Channel)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit == 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var items []models.ContextItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// UpdateItem applies a partial patch to an existing item
func (db *DB) UpdateItem(sessionID, key string, u ItemUpdate, actor string) (*models.ContextItem, error) {
	const op = "update context item"
	key, err := itemKey(op, key)
	if err != nil {
		return nil, err
	}
	if u.Category != nil && !models.IsValidCategory(*u.Category) {
		return nil, validationErr(op, "invalid category %q", *u.Category)
	}
	if u.Priority != nil && !models.IsValidItemPriority(*u.Priority) {
		return nil, validationErr(op, "invalid priority %q", *u.Priority)
	}

	var item *models.ContextItem
	err = db.mutate(op, actor, func(m *mutation) error {
		var err error
		item, err = getItem(m.tx, sessionID, key)
		if err != nil {
			return err
		}
		before := snapshot(item)
		if u.Value != nil {
			item.Value = *u.Value
			item.Size = models.ItemSize(item.Key, item.Value)
		}
		if u.Category != nil {
			item.Category = *u.Category
		}
		if u.Priority != nil {
			item.Priority = *u.Priority
		}
		if u.Channel != nil {
			item.Channel = *u.Channel
		}
		if u.Tags != nil {
			item.Tags = models.NewTagSet(*u.Tags...)
		}
		item.UpdatedAt = m.now
		if err := writeItem(m, item); err != nil {
			return err
		}
		m.record(EntityItem, item.ID, EventUpdated, before, snapshot(item))
		return nil
	})
	return item, err
}

// DeleteItem removes the item stored under key
func (db *DB) DeleteItem(sessionID, key, actor string) error {
	const op = "delete context item"
	key, err := itemKey(op, key)
	if err != nil {
		return err
	}
	return db.mutate(op, actor, func(m *mutation) error {
		item, err := getItem(m.tx, sessionID, key)
		if err != nil {
			return err
		}
		if _, err := m.tx.Exec(`DELETE FROM context_items WHERE id = ?`, item.ID); err != nil {
			return err
		}
		m.record(EntityItem, item.ID, EventDeleted, snapshot(item), "")
		return nil
	})
}

// TagItems adds or removes tags on the items selected by req and returns
// how many items were selected. Items matching neither the keys nor the
// pattern are untouched.
func (db *DB) TagItems(sessionID string, req TagRequest, actor string) (int, error) {
	const op = "tag context items"
	if len(req.Keys) == 0 && req.KeyPattern == "" {
		return 0, validationErr(op, "keys or a key pattern is required")
	}
	tags := models.NewTagSet(req.Tags...)
	if len(tags) == 0 {
		return 0, validationErr(op, "at least one tag is required")
	}
	if req.Action != TagAdd && req.Action != TagRemove {
		return 0, validationErr(op, "invalid tag action %q", req.Action)
	}

	count := 0
	err := db.mutate(op, actor, func(m *mutation) error {
		if err := sessionExists(m.tx, op, sessionID); err != nil {
			return err
		}
		items, err := sessionItems(m.tx, sessionID)
		if err != nil {
			return err
		}
		for i := range items {
			it := &items[i]
			if !selectedForTagging(it.Key, req) {
				continue
			}
			count++
			before := it.Tags
			if req.Action == TagAdd {
				it.Tags = it.Tags.Add(tags...)
			} else {
				it.Tags = it.Tags.Remove(tags...)
			}
			if before.Equal(it.Tags) {
				continue
			}
			it.UpdatedAt = m.now
			if err := writeItem(m, it); err != nil {
				return err
			}
			m.record(EntityItem, it.ID, EventUpdated, snapshot(before), snapshot(it.Tags))
		}
		return nil
	})
	return count, err
}

func selectedForTagging(key string, req TagRequest) bool {
	for _, k := range req.Keys {
		if k == key {
			return true
		}
	}
	return req.KeyPattern != "" && models.MatchKey(req.KeyPattern, key)
}

// CountItemsSince counts a session's items created or updated after since
func (db *DB) CountItemsSince(sessionID string, since time.Time) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM context_items WHERE session_id = ? AND updated_at > ?`,
		sessionID, toMillis(since)).Scan(&n)
	return n, classify("count context items", err)
}
