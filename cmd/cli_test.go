package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/savecontext/internal/config"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/session"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t       *testing.T
	project string
	dbDir   string
}

func newCLI(t *testing.T) *cli {
	home := t.TempDir()
	t.Setenv("SAVECONTEXT_HOME", home)
	t.Setenv(session.EnvAgentID, "cli-test")
	for _, k := range []string{config.EnvDBPath, config.EnvActor, config.EnvLogLevel, config.EnvDriver, config.EnvBusyTimeout} {
		t.Setenv(k, "")
	}
	project := t.TempDir()
	t.Chdir(project)
	return &cli{t: t, project: workdir.NormalizePath(project), dbDir: filepath.Join(home, "db")}
}

// resetFlags restores every flag to its default so commands can be run
// repeatedly against the shared command tree
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// run executes sc with args and returns what was written to stdout
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	oldOut, oldErr := output.Stdout, output.Stderr
	output.Stdout, output.Stderr = &stdout, &stderr
	defer func() {
		output.Stdout, output.Stderr = oldOut, oldErr
		resetFlags(rootCmd)
	}()

	rootCmd.SetArgs(append(args, "--project", c.project, "--db-dir", c.dbDir))
	err := rootCmd.Execute()
	return stdout.String(), err
}

// runJSON runs args with --json, requires success and decodes the result
func (c *cli) runJSON(v any, args ...string) {
	c.t.Helper()
	out, err := c.run(append(args, "--json")...)
	require.NoError(c.t, err, "sc %v: %s", args, out)
	require.NoError(c.t, json.Unmarshal([]byte(out), v), "decode %q", out)
}

// startSession runs session start and returns the started session
func (c *cli) startSession(args ...string) models.Session {
	c.t.Helper()
	var res struct {
		Session models.Session `json:"session"`
	}
	c.runJSON(&res, append([]string{"session", "start"}, args...)...)
	return res.Session
}

func TestCLISessionContextCheckpoint(t *testing.T) {
	c := newCLI(t)

	sess := c.startSession("auth work", "--description", "token refresh")
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, []string{c.project}, sess.ProjectPaths)

	var current models.Session
	c.runJSON(&current, "session", "current")
	assert.Equal(t, sess.ID, current.ID)

	var item models.ContextItem
	c.runJSON(&item, "context", "save", "auth-choice", "use JWT", "--category", "decision", "--tag", "auth,api")
	assert.Equal(t, models.CategoryDecision, item.Category)
	assert.ElementsMatch(t, []string{"auth", "api"}, []string(item.Tags))
	c.runJSON(&item, "context", "save", "todo", "write tests", "--priority", "high")

	var items []models.ContextItem
	c.runJSON(&items, "context", "list")
	require.Len(t, items, 2)
	assert.Equal(t, "todo", items[0].Key, "newest first")

	var cp models.Checkpoint
	c.runJSON(&cp, "checkpoint", "create", "before-refactor", "--no-git", "--include-tag", "auth")
	assert.Equal(t, 1, cp.ItemCount)

	_, err := c.run("context", "delete", "auth-choice")
	require.NoError(t, err)
	_, err = c.run("context", "get", "auth-choice")
	require.Error(t, err)

	var restored struct {
		Restored int `json:"restored"`
	}
	c.runJSON(&restored, "checkpoint", "restore", cp.ID, "--force")
	assert.Equal(t, 1, restored.Restored)

	c.runJSON(&items, "context", "list")
	require.Len(t, items, 1, "restore replaces the session's items")
	assert.Equal(t, "auth-choice", items[0].Key)
	assert.Equal(t, "use JWT", items[0].Value)
}

func TestCLIDestructiveNeedsForceWithoutTerminal(t *testing.T) {
	c := newCLI(t)

	c.startSession("s1")
	var cp models.Checkpoint
	c.runJSON(&cp, "checkpoint", "create", "cp", "--no-git")

	out, err := c.run("checkpoint", "delete", cp.ID, "--json")
	require.Error(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "validation", body["kind"])

	_, err = c.run("checkpoint", "delete", cp.ID, "--force")
	require.NoError(t, err)
	_, err = c.run("checkpoint", "show", cp.ID)
	assert.Error(t, err)
}

func TestCLIErrorKinds(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("issue", "show", "NOPE-1", "--json")
	require.Error(t, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "not_found", body["kind"])
	assert.NotEmpty(t, body["error"])

	out, err = c.run("context", "list", "--json")
	require.Error(t, err, "no session started")
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "not_found", body["kind"])
}

func TestCLIIssueGraph(t *testing.T) {
	c := newCLI(t)

	var epic, child, blocker models.Issue
	c.runJSON(&epic, "issue", "create", "Auth epic", "--type", "epic", "--priority", "3")
	c.runJSON(&child, "issue", "create", "Wire login", "--parent", epic.ShortID, "--label", "auth")
	c.runJSON(&blocker, "issue", "create", "Token store")
	assert.Equal(t, models.TypeEpic, epic.Type)
	assert.Equal(t, []string{"auth"}, child.Labels)

	_, err := c.run("dep", "add", child.ShortID, blocker.ShortID)
	require.NoError(t, err)

	readyIDs := func() []string {
		var ready []models.Issue
		c.runJSON(&ready, "issue", "ready")
		ids := make([]string, 0, len(ready))
		for _, is := range ready {
			ids = append(ids, is.ShortID)
		}
		return ids
	}
	assert.ElementsMatch(t, []string{epic.ShortID, blocker.ShortID}, readyIDs())

	var blocked []struct {
		Issue    models.Issue   `json:"issue"`
		Blockers []models.Issue `json:"blockers"`
	}
	c.runJSON(&blocked, "issue", "blocked")
	require.Len(t, blocked, 1)
	assert.Equal(t, child.ShortID, blocked[0].Issue.ShortID)

	_, err = c.run("issue", "close", blocker.ShortID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{epic.ShortID}, readyIDs(), "closing a blocker leaves the dependent blocked")

	_, err = c.run("issue", "reopen", child.ShortID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{epic.ShortID, child.ShortID}, readyIDs())

	var tree struct {
		Issue    models.Issue `json:"issue"`
		Children []struct {
			Issue models.Issue `json:"issue"`
		} `json:"children"`
	}
	c.runJSON(&tree, "issue", "tree", epic.ShortID)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, child.ShortID, tree.Children[0].Issue.ShortID)

	var claimed []models.Issue
	c.runJSON(&claimed, "issue", "next-block", "--count", "1")
	require.Len(t, claimed, 1)
	assert.Equal(t, epic.ShortID, claimed[0].ShortID, "highest priority first")
	assert.Equal(t, models.StatusInProgress, claimed[0].Status)

	_, err = c.run("issue", "close", child.ShortID)
	require.NoError(t, err)
	var progress struct {
		Total   int `json:"total"`
		Closed  int `json:"closed"`
		Percent int `json:"percent"`
	}
	c.runJSON(&progress, "issue", "progress", epic.ShortID)
	assert.Equal(t, 1, progress.Total)
	assert.Equal(t, 100, progress.Percent)

	var labels map[string]int
	c.runJSON(&labels, "label", "list")
	assert.Equal(t, map[string]int{"auth": 1}, labels)
}

func TestCLIPlanImport(t *testing.T) {
	c := newCLI(t)

	file := filepath.Join(t.TempDir(), "plan.md")
	content := "---\nstatus: active\nissues:\n  - title: Extract store\n    priority: 3\n  - title: Migrate callers\n    labels: [auth]\n---\n# Auth rewrite\n\nMove tokens out of the session.\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	var imported struct {
		Plan   models.Plan    `json:"plan"`
		Issues []models.Issue `json:"issues"`
	}
	c.runJSON(&imported, "plan", "import", file)
	assert.Equal(t, "Auth rewrite", imported.Plan.Title)
	assert.Equal(t, models.PlanActive, imported.Plan.Status)
	require.Len(t, imported.Issues, 2)
	assert.Equal(t, 3, imported.Issues[0].Priority)

	var shown struct {
		Plan   models.Plan    `json:"plan"`
		Issues []models.Issue `json:"issues"`
	}
	c.runJSON(&shown, "plan", "show", imported.Plan.ShortID)
	assert.Len(t, shown.Issues, 2)
	assert.Contains(t, shown.Plan.Content, "Move tokens")
}

func TestCLIMemoryConfigExport(t *testing.T) {
	c := newCLI(t)

	var mem models.Memory
	c.runJSON(&mem, "memory", "set", "test-cmd", "go test ./...", "--category", "command")
	assert.Equal(t, models.MemoryCommand, mem.Category)
	out, err := c.run("memory", "get", "test-cmd")
	require.NoError(t, err)
	assert.Contains(t, out, "go test ./...")

	_, err = c.run("config", "set", "actor", "robin")
	require.NoError(t, err)
	var shown struct {
		Config config.Config `json:"config"`
	}
	c.runJSON(&shown, "config", "show")
	assert.Equal(t, "robin", shown.Config.Actor)

	_, err = c.run("config", "set", "color", "blue")
	assert.Error(t, err)

	c.startSession("export me")
	var res struct {
		Counts map[string]int `json:"counts"`
	}
	c.runJSON(&res, "export", filepath.Join(t.TempDir(), "out"))
	assert.Equal(t, 1, res.Counts["sessions.jsonl"])

	var events []models.Event
	c.runJSON(&events, "events", "--type", "session")
	require.NotEmpty(t, events)
	assert.Equal(t, "robin", events[0].Actor)
}

func TestCLIValueFromFile(t *testing.T) {
	c := newCLI(t)

	c.startSession("notes")

	file := filepath.Join(t.TempDir(), "decision.md")
	require.NoError(t, os.WriteFile(file, []byte("line one\nline two\n"), 0644))

	var item models.ContextItem
	c.runJSON(&item, "context", "save", "design", "@"+file)
	assert.Equal(t, "line one\nline two", item.Value)

	c.runJSON(&item, "context", "save", "handle", "@@robin")
	assert.Equal(t, "@robin", item.Value)

	_, err := c.run("context", "save", "missing", "@"+filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestCLIOneActiveSessionPerProject(t *testing.T) {
	c := newCLI(t)

	one := c.startSession("one")
	two := c.startSession("two")
	assert.NotEqual(t, one.ID, two.ID)

	activeIDs := func() []string {
		var active []models.Session
		c.runJSON(&active, "session", "list", "--status", "active")
		ids := make([]string, 0, len(active))
		for _, s := range active {
			ids = append(ids, s.ID)
		}
		return ids
	}
	assert.Equal(t, []string{two.ID}, activeIDs(), "starting a session pauses the previous one")

	var switched models.Session
	c.runJSON(&switched, "session", "switch", one.ID)
	assert.Equal(t, models.SessionActive, switched.Status)
	assert.Equal(t, []string{one.ID}, activeIDs())

	again := c.startSession("two")
	assert.Equal(t, two.ID, again.ID, "a paused session with the same name is resumed")
	assert.Equal(t, []string{two.ID}, activeIDs())

	fresh := c.startSession("two", "--new")
	assert.NotEqual(t, two.ID, fresh.ID)
	assert.Equal(t, []string{fresh.ID}, activeIDs())

	var resumed struct {
		Session models.Session `json:"session"`
	}
	c.runJSON(&resumed, "session", "resume", one.ID)
	assert.Equal(t, []string{one.ID}, activeIDs())
}

func TestCLIStatusPrimeCompact(t *testing.T) {
	c := newCLI(t)

	var status struct {
		ProjectPath string          `json:"project_path"`
		Session     *models.Session `json:"session"`
	}
	c.runJSON(&status, "status")
	assert.Equal(t, c.project, status.ProjectPath)
	assert.Nil(t, status.Session, "status works without a session")

	sess := c.startSession("briefing")
	var item models.ContextItem
	c.runJSON(&item, "context", "save", "auth", "use JWT", "--category", "decision", "--priority", "high")
	c.runJSON(&item, "context", "save", "next", "wire refresh tokens", "--category", "reminder")
	c.runJSON(&item, "context", "save", "old", "done: login form", "--category", "reminder")

	var withSession struct {
		Session *models.Session `json:"session"`
		Stats   struct {
			Total      int            `json:"item_count"`
			High       int            `json:"high_priority_count"`
			Categories map[string]int `json:"categories"`
		} `json:"stats"`
	}
	c.runJSON(&withSession, "status")
	require.NotNil(t, withSession.Session)
	assert.Equal(t, sess.ID, withSession.Session.ID)
	assert.Equal(t, 3, withSession.Stats.Total)
	assert.Equal(t, 1, withSession.Stats.High)
	assert.Equal(t, 2, withSession.Stats.Categories["reminder"])

	var issue models.Issue
	c.runJSON(&issue, "issue", "create", "ship it")
	var primer struct {
		Decisions  []models.ContextItem `json:"decisions"`
		Ready      []models.Issue       `json:"ready"`
		OpenIssues int                  `json:"open_issues"`
	}
	c.runJSON(&primer, "prime")
	require.Len(t, primer.Decisions, 1)
	assert.Equal(t, "auth", primer.Decisions[0].Key)
	require.Len(t, primer.Ready, 1)
	assert.Equal(t, issue.ID, primer.Ready[0].ID)
	assert.Equal(t, 1, primer.OpenIssues)

	out, err := c.run("prime", "--compact")
	require.NoError(t, err)
	assert.Contains(t, out, "auth: use JWT")
	assert.Contains(t, out, issue.ShortID)

	var compacted struct {
		Checkpoint models.Checkpoint `json:"checkpoint"`
		Critical   struct {
			NextSteps []models.ContextItem `json:"next_steps"`
		} `json:"critical_context"`
		Restore struct {
			CheckpointID string `json:"checkpoint_id"`
		} `json:"restore_instructions"`
	}
	c.runJSON(&compacted, "compact", "--no-git")
	assert.Contains(t, compacted.Checkpoint.Name, "pre-compact-")
	assert.Equal(t, 3, compacted.Checkpoint.ItemCount)
	require.Len(t, compacted.Critical.NextSteps, 1)
	assert.Equal(t, "next", compacted.Critical.NextSteps[0].Key)
	assert.Equal(t, compacted.Checkpoint.ID, compacted.Restore.CheckpointID)

	var cps []models.Checkpoint
	c.runJSON(&cps, "checkpoint", "list")
	require.Len(t, cps, 1)
}

func TestCLIExportImport(t *testing.T) {
	c := newCLI(t)

	sess := c.startSession("sync me")
	var item models.ContextItem
	c.runJSON(&item, "context", "save", "plan", "v1")
	var mem models.Memory
	c.runJSON(&mem, "memory", "set", "test-cmd", "go test ./...")

	dir := filepath.Join(t.TempDir(), "out")
	var exported struct {
		Counts map[string]int `json:"counts"`
	}
	c.runJSON(&exported, "export", dir)
	assert.Equal(t, 1, exported.Counts["memories.jsonl"])

	type stats struct {
		Created   int `json:"created"`
		Updated   int `json:"updated"`
		Skipped   int `json:"skipped"`
		Conflicts int `json:"conflicts"`
	}
	var res struct {
		Strategy string           `json:"strategy"`
		Stats    map[string]stats `json:"stats"`
	}
	c.runJSON(&res, "import", dir)
	assert.Equal(t, "prefer-newer", res.Strategy)
	assert.Equal(t, 1, res.Stats["context_items.jsonl"].Skipped, "unchanged rows are skipped")

	other := &cli{t: t, project: c.project, dbDir: filepath.Join(t.TempDir(), "db2")}
	other.runJSON(&res, "import", dir, "--strategy", "prefer-external")
	assert.Equal(t, "prefer-external", res.Strategy)
	assert.Equal(t, 1, res.Stats["sessions.jsonl"].Created)
	assert.Equal(t, 1, res.Stats["context_items.jsonl"].Created)
	assert.Equal(t, 1, res.Stats["memories.jsonl"].Created)

	var got models.ContextItem
	other.runJSON(&got, "context", "get", "plan", "--session", sess.ID)
	assert.Equal(t, "v1", got.Value)

	_, err := other.run("import", dir, "--strategy", "newest")
	assert.Error(t, err)
}
