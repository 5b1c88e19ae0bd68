package db

import (
	"database/sql"
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

// StatusAll lifts the default status exclusion in list filters
const StatusAll = "all"

const sessionColumns = `s.id, s.name, s.description, s.status, s.channel, s.created_at, s.updated_at, s.ended_at`

// CreateSessionInput describes a new session
type CreateSessionInput struct {
	Name         string
	Description  string
	Channel      string
	ProjectPaths []string
	Actor        string
}

// SessionFilter narrows ListSessions. Completed sessions are excluded unless
// Status is "all" or "completed", or IncludeCompleted is set.
type SessionFilter struct {
	ProjectPath      string
	Status           string
	IncludeCompleted bool
	Search           string
	Limit            int
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	var status string
	var created, updated int64
	var ended sql.NullInt64
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &status, &s.Channel, &created, &updated, &ended); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	s.EndedAt = timePtr(ended)
	return &s, nil
}

func sessionPaths(q queryer, sessionID string) ([]string, error) {
	rows, err := q.Query(`SELECT project_path FROM session_projects WHERE session_id = ?
		ORDER BY added_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func getSession(q queryer, id string) (*models.Session, error) {
	s, err := scanSession(q.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFoundErr("get session", EntitySession, id)
	}
	if err != nil {
		return nil, err
	}
	if s.ProjectPaths, err = sessionPaths(q, id); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizePaths(paths []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		p = workdir.NormalizePath(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// CreateSession starts a new active session associated with one or more
// project paths. Each path's project is registered in the same transaction.
func (db *DB) CreateSession(in CreateSessionInput) (*models.Session, error) {
	const op = "create session"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErr(op, "session name is required")
	}
	paths := normalizePaths(in.ProjectPaths)
	if len(paths) == 0 {
		return nil, validationErr(op, "at least one project path is required")
	}

	in.Name, in.ProjectPaths = name, paths

	var sess *models.Session
	err := db.mutate(op, in.Actor, func(m *mutation) error {
		var err error
		sess, err = insertSession(m, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// insertSession creates an active session from validated input
func insertSession(m *mutation, in CreateSessionInput) (*models.Session, error) {
	sess := &models.Session{
		ID:           newID(sessionIDPrefix),
		Name:         in.Name,
		Description:  in.Description,
		Status:       models.SessionActive,
		Channel:      in.Channel,
		ProjectPaths: in.ProjectPaths,
		CreatedAt:    m.now,
		UpdatedAt:    m.now,
	}
	_, err := m.tx.Exec(`INSERT INTO sessions (id, name, description, status, channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Description, sess.Status, sess.Channel, toMillis(m.now), toMillis(m.now))
	if err != nil {
		return nil, err
	}
	for _, p := range in.ProjectPaths {
		if _, err := ensureProject(m, p); err != nil {
			return nil, err
		}
		if _, err := m.tx.Exec(`INSERT INTO session_projects (session_id, project_path, added_at) VALUES (?, ?, ?)`,
			sess.ID, p, toMillis(m.now)); err != nil {
			return nil, err
		}
	}
	m.record(EntitySession, sess.ID, EventCreated, "", snapshot(sess))
	return sess, nil
}

// GetSession returns a session with its project paths
func (db *DB) GetSession(id string) (*models.Session, error) {
	s, err := getSession(db.conn, id)
	return s, classify("get session", err)
}

// ListSessions returns sessions, most recently updated first
func (db *DB) ListSessions(f SessionFilter) ([]models.Session, error) {
	const op = "list sessions"
	if f.Limit < 0 {
		return nil, validationErr(op, "limit must not be negative")
	}
	if f.Status != "" && f.Status != StatusAll && !models.IsValidSessionStatus(models.SessionStatus(f.Status)) {
		return nil, validationErr(op, "invalid session status %q", f.Status)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE 1=1`
	var args []any
	if f.ProjectPath != "" {
		query += ` AND EXISTS (SELECT 1 FROM session_projects sp WHERE sp.session_id = s.id AND sp.project_path = ?)`
		args = append(args, workdir.NormalizePath(f.ProjectPath))
	}
	switch {
	case f.Status == StatusAll:
	case f.Status != "":
		query += ` AND s.status = ?`
		args = append(args, f.Status)
	case !f.IncludeCompleted:
		query += ` AND s.status != 'completed'`
	}
	if f.Search != "" {
		query += ` AND (s.name LIKE ? OR s.description LIKE ?)`
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY s.updated_at DESC, s.rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		if sessions[i].ProjectPaths, err = sessionPaths(db.conn, sessions[i].ID); err != nil {
			return nil, classify(op, err)
		}
	}
	return sessions, nil
}

// writeSessionStatus moves sess to status inside m
func writeSessionStatus(m *mutation, sess *models.Session, status models.SessionStatus) error {
	old := sess.Status
	sess.Status = status
	sess.UpdatedAt = m.now
	if status == models.SessionActive {
		sess.EndedAt = nil
	} else {
		ended := m.now
		sess.EndedAt = &ended
	}
	_, err := m.tx.Exec(`UPDATE sessions SET status = ?, updated_at = ?, ended_at = ? WHERE id = ?`,
		status, toMillis(m.now), nullMillis(sess.EndedAt), sess.ID)
	if err != nil {
		return err
	}
	m.record(EntitySession, sess.ID, EventStatusChanged, string(old), string(status))
	return nil
}

func (db *DB) setSessionStatus(op, id, actor string, status models.SessionStatus) (*models.Session, error) {
	var sess *models.Session
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		sess, err = getSession(m.tx, id)
		if err != nil {
			return err
		}
		return writeSessionStatus(m, sess, status)
	})
	return sess, err
}

// activeOverlapping returns the ids of active sessions other than sess that
// share a project path with it
func activeOverlapping(q queryer, sess *models.Session) ([]string, error) {
	if len(sess.ProjectPaths) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sess.ProjectPaths)), ",")
	args := []any{sess.ID}
	for _, p := range sess.ProjectPaths {
		args = append(args, p)
	}
	rows, err := q.Query(`SELECT DISTINCT s.id FROM sessions s
		JOIN session_projects sp ON sp.session_id = s.id
		WHERE s.status = 'active' AND s.id != ? AND sp.project_path IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// pauseOverlapping pauses every active session other than sess that shares
// a project path with it, and returns their ids
func pauseOverlapping(m *mutation, sess *models.Session) ([]string, error) {
	ids, err := activeOverlapping(m.tx, sess)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		other, err := getSession(m.tx, id)
		if err != nil {
			return nil, err
		}
		if err := writeSessionStatus(m, other, models.SessionPaused); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ActivateSession makes a session the single active session of each of its
// projects: it is resumed if needed and every other active session sharing
// one of its paths is paused, all in one transaction. The ids of the paused
// sessions are returned.
func (db *DB) ActivateSession(id, actor string) (*models.Session, []string, error) {
	const op = "activate session"
	var sess *models.Session
	var paused []string
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		if sess, err = getSession(m.tx, id); err != nil {
			return err
		}
		if paused, err = pauseOverlapping(m, sess); err != nil {
			return err
		}
		if sess.Status != models.SessionActive {
			return writeSessionStatus(m, sess, models.SessionActive)
		}
		return nil
	})
	return sess, paused, err
}

// StartResult reports what StartSession did
type StartResult struct {
	Session *models.Session `json:"session"`
	Resumed bool            `json:"resumed"`
	Paused  []string        `json:"paused,omitempty"`
}

// StartSession begins work under name in the given projects. Unless
// forceNew is set, a paused session with the same name in one of the
// projects is resumed instead of creating a new one. Either way the result
// is the only active session in its projects.
func (db *DB) StartSession(in CreateSessionInput, forceNew bool) (*StartResult, error) {
	const op = "start session"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErr(op, "session name is required")
	}
	paths := normalizePaths(in.ProjectPaths)
	if len(paths) == 0 {
		return nil, validationErr(op, "at least one project path is required")
	}
	in.Name, in.ProjectPaths = name, paths

	res := &StartResult{}
	err := db.mutate(op, in.Actor, func(m *mutation) error {
		var err error
		if !forceNew {
			if res.Session, err = pausedSessionNamed(m.tx, name, paths); err != nil {
				return err
			}
		}
		if res.Session != nil {
			res.Resumed = true
			if err := writeSessionStatus(m, res.Session, models.SessionActive); err != nil {
				return err
			}
		} else if res.Session, err = insertSession(m, in); err != nil {
			return err
		}
		res.Paused, err = pauseOverlapping(m, res.Session)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// pausedSessionNamed returns the most recently updated paused session called
// name that is associated with one of paths, or nil
func pausedSessionNamed(q queryer, name string, paths []string) (*models.Session, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := []any{name}
	for _, p := range paths {
		args = append(args, p)
	}
	var id string
	err := q.QueryRow(`SELECT s.id FROM sessions s
		JOIN session_projects sp ON sp.session_id = s.id
		WHERE s.status = 'paused' AND s.name = ? AND sp.project_path IN (`+placeholders+`)
		ORDER BY s.updated_at DESC, s.rowid DESC LIMIT 1`, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return getSession(q, id)
}

// PauseSession marks a session paused
func (db *DB) PauseSession(id, actor string) (*models.Session, error) {
	return db.setSessionStatus("pause session", id, actor, models.SessionPaused)
}

// ResumeSession marks a session active again
func (db *DB) ResumeSession(id, actor string) (*models.Session, error) {
	return db.setSessionStatus("resume session", id, actor, models.SessionActive)
}

// EndSession marks a session completed
func (db *DB) EndSession(id, actor string) (*models.Session, error) {
	return db.setSessionStatus("end session", id, actor, models.SessionCompleted)
}

// RenameSession changes a session's name and, if non-nil, its description
func (db *DB) RenameSession(id, name string, description *string, actor string) (*models.Session, error) {
	const op = "rename session"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationErr(op, "session name is required")
	}
	var sess *models.Session
	err := db.mutate(op, actor, func(m *mutation) error {
		var err error
		sess, err = getSession(m.tx, id)
		if err != nil {
			return err
		}
		old := sess.Name
		sess.Name = name
		if description != nil {
			sess.Description = *description
		}
		sess.UpdatedAt = m.now
		_, err = m.tx.Exec(`UPDATE sessions SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
			sess.Name, sess.Description, toMillis(m.now), id)
		if err != nil {
			return err
		}
		m.record(EntitySession, id, EventUpdated, old, name)
		return nil
	})
	return sess, err
}

// DeleteSession removes a session with its items and checkpoints. Active
// sessions cannot be deleted.
func (db *DB) DeleteSession(id, actor string) error {
	const op = "delete session"
	return db.mutate(op, actor, func(m *mutation) error {
		sess, err := getSession(m.tx, id)
		if err != nil {
			return err
		}
		if sess.Status == models.SessionActive {
			return invalidStateErr(op, EntitySession, id, "session is active; pause or end it first")
		}
		if _, err := m.tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return err
		}
		m.record(EntitySession, id, EventDeleted, snapshot(sess), "")
		return nil
	})
}

// AddSessionPath associates another project path with a session. Adding a
// path that is already associated is a no-op.
func (db *DB) AddSessionPath(id, path, actor string) (*models.Session, error) {
	const op = "add session path"
	path = workdir.NormalizePath(path)
	if path == "" {
		return nil, validationErr(op, "project path is required")
	}
	var sess *models.Session
	err := db.mutate(op, actor, func(m *mutation) error {
		if _, err := getSession(m.tx, id); err != nil {
			return err
		}
		if _, err := ensureProject(m, path); err != nil {
			return err
		}
		res, err := m.tx.Exec(`INSERT OR IGNORE INTO session_projects (session_id, project_path, added_at) VALUES (?, ?, ?)`,
			id, path, toMillis(m.now))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := m.tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, toMillis(m.now), id); err != nil {
				return err
			}
			m.record(EntitySession, id, EventPathAdded, "", path)
		}
		sess, err = getSession(m.tx, id)
		return err
	})
	return sess, err
}

// RemoveSessionPath dissociates a project path from a session. A session
// keeps at least one path, so removing the last one fails.
func (db *DB) RemoveSessionPath(id, path, actor string) (*models.Session, error) {
	const op = "remove session path"
	path = workdir.NormalizePath(path)
	var sess *models.Session
	err := db.mutate(op, actor, func(m *mutation) error {
		current, err := getSession(m.tx, id)
		if err != nil {
			return err
		}
		found := false
		for _, p := range current.ProjectPaths {
			if p == path {
				found = true
				break
			}
		}
		if !found {
			return notFoundErr(op, "session path", path)
		}
		if len(current.ProjectPaths) == 1 {
			return invalidStateErr(op, EntitySession, id, "cannot remove the last project path")
		}
		if _, err := m.tx.Exec(`DELETE FROM session_projects WHERE session_id = ? AND project_path = ?`, id, path); err != nil {
			return err
		}
		if _, err := m.tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, toMillis(m.now), id); err != nil {
			return err
		}
		m.record(EntitySession, id, EventPathRemoved, path, "")
		sess, err = getSession(m.tx, id)
		return err
	})
	return sess, err
}

// ActiveSessionForPaths returns the most recently updated active session
// associated with any of paths, or nil if there is none.
func (db *DB) ActiveSessionForPaths(paths []string) (*models.Session, error) {
	paths = normalizePaths(paths)
	if len(paths) == 0 {
		return nil, validationErr("active session for paths", "at least one path is required")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	var id string
	err := db.conn.QueryRow(`SELECT s.id FROM sessions s
		JOIN session_projects sp ON sp.session_id = s.id
		WHERE s.status = 'active' AND sp.project_path IN (`+placeholders+`)
		ORDER BY s.updated_at DESC, s.rowid DESC LIMIT 1`, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("active session for paths", err)
	}
	return db.GetSession(id)
}
