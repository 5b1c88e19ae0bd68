package db

import (
	"database/sql"
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

const memoryColumns = `id, project_path, key, value, category, created_at, updated_at`

func scanMemory(row interface{ Scan(...any) error }) (*models.Memory, error) {
	var m models.Memory
	var category string
	var created, updated int64
	if err := row.Scan(&m.ID, &m.ProjectPath, &m.Key, &m.Value, &category, &created, &updated); err != nil {
		return nil, err
	}
	m.Category = models.MemoryCategory(category)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	return &m, nil
}

func getMemory(q queryer, projectPath, key string) (*models.Memory, error) {
	mem, err := scanMemory(q.QueryRow(`SELECT `+memoryColumns+` FROM project_memory WHERE project_path = ? AND key = ?`,
		projectPath, key))
	if err == sql.ErrNoRows {
		return nil, notFoundErr("get memory", EntityMemory, key)
	}
	return mem, err
}

// SetMemory upserts a project memory entry by key. Category defaults to note.
func (db *DB) SetMemory(projectPath, key, value string, category models.MemoryCategory, actor string) (*models.Memory, error) {
	const op = "set memory"
	projectPath = workdir.NormalizePath(projectPath)
	key = strings.TrimSpace(key)
	if projectPath == "" {
		return nil, validationErr(op, "project path is required")
	}
	if key == "" {
		return nil, validationErr(op, "key is required")
	}
	if category == "" {
		category = models.MemoryNote
	}
	if !models.IsValidMemoryCategory(category) {
		return nil, validationErr(op, "invalid memory category %q", category)
	}

	var mem *models.Memory
	err := db.mutate(op, actor, func(m *mutation) error {
		if _, err := ensureProject(m, projectPath); err != nil {
			return err
		}
		existing, err := getMemory(m.tx, projectPath, key)
		if err != nil && !isNotFound(err) {
			return err
		}
		if existing == nil {
			mem = &models.Memory{
				ID:          newID(memoryIDPrefix),
				ProjectPath: projectPath,
				Key:         key,
				Value:       value,
				Category:    category,
				CreatedAt:   m.now,
				UpdatedAt:   m.now,
			}
			if _, err := m.tx.Exec(`INSERT INTO project_memory (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				mem.ID, mem.ProjectPath, mem.Key, mem.Value, mem.Category,
				toMillis(mem.CreatedAt), toMillis(mem.UpdatedAt)); err != nil {
				return err
			}
			m.record(EntityMemory, mem.ID, EventCreated, "", snapshot(mem))
			return nil
		}

		before := snapshot(existing)
		mem = existing
		mem.Value = value
		mem.Category = category
		mem.UpdatedAt = m.now
		if _, err := m.tx.Exec(`UPDATE project_memory SET value = ?, category = ?, updated_at = ? WHERE id = ?`,
			mem.Value, mem.Category, toMillis(mem.UpdatedAt), mem.ID); err != nil {
			return err
		}
		m.record(EntityMemory, mem.ID, EventUpdated, before, snapshot(mem))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mem, nil
}

// GetMemory returns one memory entry of a project
func (db *DB) GetMemory(projectPath, key string) (*models.Memory, error) {
	mem, err := getMemory(db.conn, workdir.NormalizePath(projectPath), strings.TrimSpace(key))
	return mem, classify("get memory", err)
}

// ListMemory returns a project's memory ordered by key, optionally narrowed
// to one category
func (db *DB) ListMemory(projectPath string, category models.MemoryCategory) ([]models.Memory, error) {
	const op = "list memory"
	if category != "" && !models.IsValidMemoryCategory(category) {
		return nil, validationErr(op, "invalid memory category %q", category)
	}
	query := `SELECT ` + memoryColumns + ` FROM project_memory WHERE project_path = ?`
	args := []any{workdir.NormalizePath(projectPath)}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY key`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mem)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory entry
func (db *DB) DeleteMemory(projectPath, key, actor string) error {
	const op = "delete memory"
	projectPath = workdir.NormalizePath(projectPath)
	return db.mutate(op, actor, func(m *mutation) error {
		mem, err := getMemory(m.tx, projectPath, strings.TrimSpace(key))
		if err != nil {
			return err
		}
		if _, err := m.tx.Exec(`DELETE FROM project_memory WHERE id = ?`, mem.ID); err != nil {
			return err
		}
		m.record(EntityMemory, mem.ID, EventDeleted, snapshot(mem), "")
		return nil
	})
}
