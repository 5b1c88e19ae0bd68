package db

import (
	"database/sql"
	"strings"

	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/workdir"
)

// SetCurrentSession records that agentID is working in sessionID
func (db *DB) SetCurrentSession(agentID, sessionID, projectPath, provider string) error {
	const op = "set current session"
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return validationErr(op, "agent id is required")
	}
	projectPath = workdir.NormalizePath(projectPath)
	return db.mutate(op, agentID, func(m *mutation) error {
		sess, err := getSession(m.tx, sessionID)
		if err != nil {
			return err
		}
		if projectPath == "" && len(sess.ProjectPaths) > 0 {
			projectPath = sess.ProjectPaths[0]
		}
		_, err = m.tx.Exec(`INSERT INTO agent_sessions (agent_id, session_id, project_path, provider, last_active_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET
				session_id = excluded.session_id,
				project_path = excluded.project_path,
				provider = excluded.provider,
				last_active_at = excluded.last_active_at`,
			agentID, sessionID, projectPath, provider, toMillis(m.now))
		return err
	})
}

// CurrentSession returns the session agentID is working in, or nil
func (db *DB) CurrentSession(agentID string) (*models.AgentSession, error) {
	var a models.AgentSession
	var last int64
	err := db.conn.QueryRow(`SELECT agent_id, session_id, project_path, provider, last_active_at
		FROM agent_sessions WHERE agent_id = ?`, agentID).
		Scan(&a.AgentID, &a.SessionID, &a.ProjectPath, &a.Provider, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("current session", err)
	}
	a.LastActiveAt = fromMillis(last)
	return &a, nil
}

// ClearCurrentSession forgets agentID's current session
func (db *DB) ClearCurrentSession(agentID string) error {
	return db.mutate("clear current session", agentID, func(m *mutation) error {
		_, err := m.tx.Exec(`DELETE FROM agent_sessions WHERE agent_id = ?`, agentID)
		return err
	})
}

// SessionAgents lists the agents currently attached to a session
func (db *DB) SessionAgents(sessionID string) ([]models.AgentSession, error) {
	rows, err := db.conn.Query(`SELECT agent_id, session_id, project_path, provider, last_active_at
		FROM agent_sessions WHERE session_id = ? ORDER BY last_active_at DESC`, sessionID)
	if err != nil {
		return nil, classify("session agents", err)
	}
	defer rows.Close()

	var agents []models.AgentSession
	for rows.Next() {
		var a models.AgentSession
		var last int64
		if err := rows.Scan(&a.AgentID, &a.SessionID, &a.ProjectPath, &a.Provider, &last); err != nil {
			return nil, err
		}
		a.LastActiveAt = fromMillis(last)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
