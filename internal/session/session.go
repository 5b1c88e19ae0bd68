// Package session identifies the calling agent and resolves the session it
// is working in.
package session

import (
	"os"
	"regexp"
	"strconv"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
)

// EnvAgentID overrides agent detection with an explicit id
const EnvAgentID = "SAVECONTEXT_AGENT_ID"

const maxExplicitIDLen = 32

// AgentType names the tool driving the CLI
type AgentType string

const (
	AgentClaudeCode AgentType = "claude-code"
	AgentCursor     AgentType = "cursor"
	AgentCodex      AgentType = "codex"
	AgentWindsurf   AgentType = "windsurf"
	AgentZed        AgentType = "zed"
	AgentAider      AgentType = "aider"
	AgentCopilot    AgentType = "copilot"
	AgentGemini     AgentType = "gemini"
	AgentTerminal   AgentType = "terminal"
	AgentUnknown    AgentType = "unknown"
	agentExplicit   AgentType = "explicit"
)

// detection order matters: the first variable present wins
var agentEnv = []struct {
	env  string
	kind AgentType
}{
	{"CLAUDECODE", AgentClaudeCode},
	{"CURSOR_AGENT", AgentCursor},
	{"CODEX_SANDBOX", AgentCodex},
	{"WINDSURF_AGENT", AgentWindsurf},
	{"ZED_TERM", AgentZed},
	{"AIDER_MODEL", AgentAider},
	{"COPILOT_AGENT", AgentCopilot},
	{"GEMINI_CLI", AgentGemini},
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// AgentFingerprint identifies one agent process
type AgentFingerprint struct {
	Type       AgentType
	PID        int
	ExplicitID string
}

// String returns the agent id stored in agent_sessions
func (f AgentFingerprint) String() string {
	if f.ExplicitID != "" {
		id := unsafeIDChars.ReplaceAllString(f.ExplicitID, "_")
		if len(id) > maxExplicitIDLen {
			id = id[:maxExplicitIDLen]
		}
		return string(f.Type) + "_" + id
	}
	if f.PID > 0 {
		return string(f.Type) + "_" + strconv.Itoa(f.PID)
	}
	return string(f.Type)
}

// Provider is the tool name recorded alongside the agent id
func (f AgentFingerprint) Provider() string {
	if f.Type == agentExplicit {
		return ""
	}
	return string(f.Type)
}

// GetAgentFingerprint detects the calling agent from the environment. An
// explicit SAVECONTEXT_AGENT_ID wins; otherwise a known agent variable
// selects the type and the parent pid keeps concurrent agents apart.
func GetAgentFingerprint() AgentFingerprint {
	if id := os.Getenv(EnvAgentID); id != "" {
		return AgentFingerprint{Type: agentExplicit, ExplicitID: id}
	}
	for _, a := range agentEnv {
		if os.Getenv(a.env) != "" {
			return AgentFingerprint{Type: a.kind, PID: os.Getppid()}
		}
	}
	if os.Getenv("TERM") != "" {
		return AgentFingerprint{Type: AgentTerminal}
	}
	return AgentFingerprint{Type: AgentUnknown}
}

// Store is the subset of the engine used to resolve sessions
type Store interface {
	CurrentSession(agentID string) (*models.AgentSession, error)
	GetSession(id string) (*models.Session, error)
	ActiveSessionForPaths(paths []string) (*models.Session, error)
}

// Resolve returns the session agentID is working in. The agent's recorded
// session wins unless it has been completed or deleted; otherwise the most
// recent active session for projectPath is used.
func Resolve(store Store, agentID, projectPath string) (*models.Session, error) {
	cur, err := store.CurrentSession(agentID)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		sess, err := store.GetSession(cur.SessionID)
		if err == nil && sess.Status != models.SessionCompleted {
			return sess, nil
		}
	}
	if projectPath == "" {
		return nil, &db.Error{Kind: db.ErrNotFound, Op: "resolve session", Msg: "no current session: start one with 'sc session start'"}
	}
	sess, err := store.ActiveSessionForPaths([]string{projectPath})
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &db.Error{Kind: db.ErrNotFound, Op: "resolve session", Msg: "no active session for " + projectPath + ": start one with 'sc session start'"}
	}
	return sess, nil
}
