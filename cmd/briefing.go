package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
)

const (
	gitChangesShown = 20
	compactGitShown = 10
)

// softSession resolves the current session but treats "none" as nil
func softSession(cmd *cobra.Command, database *db.DB) (*models.Session, error) {
	sess, err := currentSession(cmd, database)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// gitChanges splits porcelain status output into at most n trimmed lines
func gitChanges(status string, n int) []string {
	var out []string
	for _, line := range strings.Split(status, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if len(out) == n {
			break
		}
		out = append(out, line)
	}
	return out
}

func printItems(title string, items []models.ContextItem, n int) {
	if len(items) == 0 {
		return
	}
	output.Line("%s:", title)
	for i, it := range items {
		if i == n {
			output.Line("  %s", output.Muted(fmt.Sprintf("... %d more", len(items)-n)))
			break
		}
		output.Line("  %s: %s", it.Key, output.Truncate(it.Value, 100))
	}
	output.Line("")
}

type statusView struct {
	ProjectPath string          `json:"project_path"`
	GitBranch   string          `json:"git_branch,omitempty"`
	Session     *models.Session `json:"session"`
	Stats       *db.ItemStats   `json:"stats,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project, branch and current session at a glance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			v := statusView{ProjectPath: projectPath(cmd)}
			v.GitBranch, _ = workdir.GitInfo(v.ProjectPath)
			sess, err := softSession(cmd, database)
			if err != nil {
				return err
			}
			if sess != nil {
				v.Session = sess
				if v.Stats, err = database.ItemStats(sess.ID); err != nil {
					return err
				}
			}
			return emit(cmd, v, func() {
				output.Line("Project: %s", v.ProjectPath)
				if v.GitBranch != "" {
					output.Line("Branch:  %s", v.GitBranch)
				}
				if v.Session == nil {
					output.Line("")
					output.Line("No active session: start one with 'sc session start <name>'")
					return
				}
				output.Line("")
				output.Line("Session: %s %s", v.Session.Name, output.Muted(v.Session.ID))
				output.Line("  Status:  %s", v.Session.Status)
				output.Line("  Updated: %s", output.FormatTimeAgo(v.Session.UpdatedAt))
				output.Line("")
				output.Line("Context items: %d", v.Stats.Total)
				if v.Stats.HighPriority > 0 {
					output.Line("  High priority: %d", v.Stats.HighPriority)
				}
				for _, c := range []models.Category{models.CategoryReminder, models.CategoryDecision,
					models.CategoryProgress, models.CategoryNote} {
					output.Line("  %-9s %d", string(c)+":", v.Stats.ByCategory[c])
				}
			})
		})
	},
}

type primeView struct {
	*db.Primer
	GitBranch  string   `json:"git_branch,omitempty"`
	GitChanges []string `json:"git_changes,omitempty"`
}

var primeCmd = &cobra.Command{
	Use:   "prime",
	Short: "Print a digest of the project for starting or resuming work",
	Long: `Gathers the current session's key context, in-progress and ready issues and
project memory into one read-only digest, suitable for pasting into an
assistant's context. --compact trims every section to its top entries.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			project := projectPath(cmd)
			sess, err := softSession(cmd, database)
			if err != nil {
				return err
			}
			sessionID := ""
			if sess != nil {
				sessionID = sess.ID
			}
			p, err := database.Prime(project, sessionID)
			if err != nil {
				return err
			}
			branch, status := workdir.GitInfo(project)
			v := primeView{Primer: p, GitBranch: branch, GitChanges: gitChanges(status, gitChangesShown)}

			shown := 10
			if compact, _ := cmd.Flags().GetBool("compact"); compact {
				shown = 5
			}
			return emit(cmd, v, func() { printPrimer(v, shown) })
		})
	},
}

func printPrimer(v primeView, shown int) {
	output.Line("# SaveContext primer: %s", v.ProjectPath)
	output.Line("")
	if v.GitBranch != "" {
		output.Line("Branch: %s", v.GitBranch)
		for _, c := range head(v.GitChanges, shown) {
			output.Line("  %s", c)
		}
		output.Line("")
	}

	if v.Session == nil {
		output.Line("No active session: start one with 'sc session start <name>'")
		output.Line("")
	} else {
		output.Line("Session: %s %s (%d items)", v.Session.Name, output.Muted(v.Session.ID), v.Stats.Total)
		output.Line("")
		printItems("High priority", v.HighItems, shown)
		printItems("Decisions", v.Decisions, shown)
		printItems("Reminders", v.Reminders, shown)
		printItems("Recent progress", v.Progress, shown)
	}

	output.Line("Issues: %d open", v.OpenIssues)
	if len(v.InProgress) > 0 {
		output.Line("In progress:")
		for i := range head(v.InProgress, shown) {
			output.Line("  %s", output.FormatIssueShort(&v.InProgress[i]))
		}
	}
	if len(v.Ready) > 0 {
		output.Line("Ready:")
		for i := range head(v.Ready, shown) {
			output.Line("  %s", output.FormatIssueShort(&v.Ready[i]))
		}
	}
	output.Line("")

	if len(v.Memory) > 0 {
		output.Line("Project memory:")
		for _, m := range head(v.Memory, shown) {
			output.Line("  %s [%s]: %s", m.Key, m.Category, output.Truncate(m.Value, 100))
		}
		output.Line("")
	}

	output.Line("Commands:")
	output.Line("  sc context save <key> <value>   record a decision, reminder or note")
	output.Line("  sc checkpoint create <name>     snapshot the session")
	output.Line("  sc ready                        list issues that can be picked up")
	output.Line("  sc compact                      checkpoint before a context reset")
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

type restoreHint struct {
	Command      string `json:"tool"`
	CheckpointID string `json:"checkpoint_id"`
	Message      string `json:"message"`
	Summary      string `json:"summary"`
}

type compactView struct {
	*db.Compaction
	GitBranch string      `json:"git_branch,omitempty"`
	GitFiles  []string    `json:"git_files,omitempty"`
	Restore   restoreHint `json:"restore_instructions"`
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Checkpoint the session and summarize what must survive a context reset",
	Long: `Creates a pre-compact-{timestamp} checkpoint holding every item of the current
session, then prints the critical context: high priority items, pending
reminders, key decisions and recent progress, with the command that restores
the checkpoint.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			in := db.CompactInput{SessionID: sess.ID, Actor: actor(cmd)}
			if noGit, _ := cmd.Flags().GetBool("no-git"); !noGit {
				in.GitBranch, in.GitStatus = workdir.GitInfo(projectPath(cmd))
			}
			res, err := database.Compact(in)
			if err != nil {
				return err
			}
			v := compactView{
				Compaction: res,
				GitBranch:  in.GitBranch,
				GitFiles:   gitChanges(in.GitStatus, compactGitShown),
				Restore: restoreHint{
					Command:      "sc checkpoint restore",
					CheckpointID: res.Checkpoint.ID,
					Message:      "To continue this session, restore from checkpoint: " + res.Checkpoint.Name,
					Summary: fmt.Sprintf("Session has %d pending tasks and %d key decisions recorded.",
						res.PendingCount, res.DecisionCount),
				},
			}
			return emit(cmd, v, func() {
				output.Success("Checkpoint %s (%s) holds %d items", res.Checkpoint.Name, res.Checkpoint.ID, res.Checkpoint.ItemCount)
				output.Line("")
				if v.GitBranch != "" {
					output.Line("Branch: %s", v.GitBranch)
					for _, f := range head(v.GitFiles, 5) {
						output.Line("  %s", f)
					}
					output.Line("")
				}
				printItems("High priority", res.Summary.HighPriority, len(res.Summary.HighPriority))
				printItems("Next steps", res.Summary.NextSteps, len(res.Summary.NextSteps))
				printItems("Key decisions", res.Summary.Decisions, len(res.Summary.Decisions))
				printItems("Recent progress", res.Summary.Progress, len(res.Summary.Progress))
				output.Line("%s", v.Restore.Summary)
				output.Line("Restore with: %s %s", v.Restore.Command, v.Restore.CheckpointID)
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, primeCmd, compactCmd)

	for _, c := range []*cobra.Command{statusCmd, primeCmd, compactCmd} {
		c.Flags().String("session", "", "Session id (default: current)")
	}
	primeCmd.Flags().Bool("compact", false, "Show only the top entries of each section")
	compactCmd.Flags().Bool("no-git", false, "Do not record git branch and status")
}
