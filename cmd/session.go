package cmd

import (
	"strings"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions", "s"},
	Short:   "Start, switch and manage sessions",
}

// pointAgentAt makes sess the calling agent's current session
func pointAgentAt(cmd *cobra.Command, database *db.DB, sess *models.Session) error {
	fp := agentFingerprint()
	path := projectPath(cmd)
	if !containsPath(sess.ProjectPaths, path) {
		path = ""
	}
	return database.SetCurrentSession(fp.String(), sess.ID, path, fp.Provider())
}

func containsPath(paths []string, p string) bool {
	for _, x := range paths {
		if x == p {
			return true
		}
	}
	return false
}

func printSession(s *models.Session) {
	output.Line("%s  %s [%s]", output.FormatID("", s.ID), s.Name, s.Status)
	if s.Description != "" {
		output.Line("  %s", s.Description)
	}
	if s.Channel != "" {
		output.Line("  channel: %s", s.Channel)
	}
	output.Line("  paths: %s", strings.Join(s.ProjectPaths, ", "))
	output.Line("  updated %s", output.FormatTimeAgo(s.UpdatedAt))
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a session and make it current",
	Long: `Starts a session in the current project and makes it the agent's current
session. A paused session with the same name in the project is resumed
instead unless --new is given. Any other active session in the same projects
is paused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			paths, _ := cmd.Flags().GetStringSlice("path")
			if len(paths) == 0 {
				paths = []string{projectPath(cmd)}
			}
			desc, _ := cmd.Flags().GetString("description")
			channel, _ := cmd.Flags().GetString("channel")
			forceNew, _ := cmd.Flags().GetBool("new")

			res, err := database.StartSession(db.CreateSessionInput{
				Name:         args[0],
				Description:  desc,
				Channel:      channel,
				ProjectPaths: paths,
				Actor:        actor(cmd),
			}, forceNew)
			if err != nil {
				return err
			}
			sess := res.Session
			if err := pointAgentAt(cmd, database, sess); err != nil {
				return err
			}
			return emit(cmd, res, func() {
				if res.Resumed {
					output.Success("Resumed session %s (%s)", sess.Name, sess.ID)
				} else {
					output.Success("Started session %s (%s)", sess.Name, sess.ID)
				}
				printPaused(res.Paused)
			})
		})
	},
}

func printPaused(ids []string) {
	for _, id := range ids {
		output.Line("Paused %s", output.FormatID("", id))
	}
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume a session and make it current",
	Long: `Resumes the given session, or the most recently updated unfinished session
of the current project, and makes it the agent's current session. Other
active sessions in the same projects are paused.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				recent, err := database.ListSessions(db.SessionFilter{ProjectPath: projectPath(cmd), Limit: 1})
				if err != nil {
					return err
				}
				if len(recent) == 0 {
					return &db.Error{Kind: db.ErrNotFound, Op: "resume session", Msg: "no unfinished session for " + projectPath(cmd)}
				}
				id = recent[0].ID
			}

			sess, paused, err := database.ActivateSession(id, actor(cmd))
			if err != nil {
				return err
			}
			if err := pointAgentAt(cmd, database, sess); err != nil {
				return err
			}

			items, err := database.CountItemsSince(sess.ID, sess.CreatedAt)
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"session": sess, "item_count": items, "paused": paused}, func() {
				output.Success("Resumed session %s (%s)", sess.Name, sess.ID)
				output.Line("%d context items", items)
				printPaused(paused)
			})
		})
	},
}

var sessionSwitchCmd = &cobra.Command{
	Use:   "switch <session-id>",
	Short: "Make a session current and active, pausing the others in its projects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, paused, err := database.ActivateSession(args[0], actor(cmd))
			if err != nil {
				return err
			}
			if err := pointAgentAt(cmd, database, sess); err != nil {
				return err
			}
			return emit(cmd, sess, func() {
				output.Success("Switched to %s (%s)", sess.Name, sess.ID)
				printPaused(paused)
			})
		})
	},
}

var sessionCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			return emit(cmd, sess, func() { printSession(sess) })
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and the agents working in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := database.GetSession(args[0])
			if err != nil {
				return err
			}
			agents, err := database.SessionAgents(sess.ID)
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"session": sess, "agents": agents}, func() {
				printSession(sess)
				for _, a := range agents {
					output.Line("  agent %s %s", a.AgentID, output.Muted(output.FormatTimeAgo(a.LastActiveAt)))
				}
			})
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			status, _ := cmd.Flags().GetString("status")
			all, _ := cmd.Flags().GetBool("all-projects")
			search, _ := cmd.Flags().GetString("search")
			limit, _ := cmd.Flags().GetInt("limit")

			f := db.SessionFilter{Status: status, Search: search, Limit: limit}
			if !all {
				f.ProjectPath = projectPath(cmd)
			}
			sessions, err := database.ListSessions(f)
			if err != nil {
				return err
			}
			return emit(cmd, sessions, func() {
				for _, s := range sessions {
					output.Line("%s  %-30s [%s] %s", output.FormatID("", s.ID), output.Truncate(s.Name, 30), s.Status,
						output.Muted(output.FormatTimeAgo(s.UpdatedAt)))
				}
				if len(sessions) == 0 {
					output.Line("No sessions")
				}
			})
		})
	},
}

func sessionStatusCmd(use, short string, apply func(*db.DB, string, string) (*models.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [session-id]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(database *db.DB) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					cur, err := currentSession(cmd, database)
					if err != nil {
						return err
					}
					id = cur.ID
				}
				sess, err := apply(database, id, actor(cmd))
				if err != nil {
					return err
				}
				return emit(cmd, sess, func() {
					output.Success("Session %s is now %s", sess.ID, sess.Status)
				})
			})
		},
	}
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := database.RenameSession(args[0], args[1], optionalString(cmd.Flags(), "description"), actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, sess, func() { output.Success("Renamed %s to %s", sess.ID, sess.Name) })
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a paused or completed session with its items and checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			if err := confirm(cmd, "Delete session "+args[0]+"?"); err != nil {
				return err
			}
			if err := database.DeleteSession(args[0], actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": args[0]}, func() { output.Success("Deleted session %s", args[0]) })
		})
	},
}

var sessionAddPathCmd = &cobra.Command{
	Use:   "add-path <session-id> <path>",
	Short: "Associate another project path with a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := database.AddSessionPath(args[0], args[1], actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, sess, func() { output.Success("Paths: %s", strings.Join(sess.ProjectPaths, ", ")) })
		})
	},
}

var sessionRemovePathCmd = &cobra.Command{
	Use:   "remove-path <session-id> <path>",
	Short: "Remove a project path from a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := database.RemoveSessionPath(args[0], args[1], actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, sess, func() { output.Success("Paths: %s", strings.Join(sess.ProjectPaths, ", ")) })
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)

	sessionStartCmd.Flags().String("description", "", "Session description")
	sessionStartCmd.Flags().String("channel", "", "Default channel")
	sessionStartCmd.Flags().StringSlice("path", nil, "Project paths (repeatable, default: current project)")
	sessionStartCmd.Flags().Bool("new", false, "Always create a new session, even if a paused one has this name")

	sessionListCmd.Flags().String("status", "", "Filter by status (active, paused, completed, all)")
	sessionListCmd.Flags().Bool("all-projects", false, "List sessions of every project")
	sessionListCmd.Flags().String("search", "", "Match name or description")
	sessionListCmd.Flags().Int("limit", 20, "Maximum sessions to list")

	sessionRenameCmd.Flags().String("description", "", "New description")
	addForceFlag(sessionDeleteCmd)

	sessionCmd.AddCommand(
		sessionStartCmd,
		sessionResumeCmd,
		sessionSwitchCmd,
		sessionCurrentCmd,
		sessionShowCmd,
		sessionListCmd,
		sessionStatusCmd("pause", "Pause a session (default: current)", (*db.DB).PauseSession),
		sessionStatusCmd("end", "Complete a session (default: current)", (*db.DB).EndSession),
		sessionRenameCmd,
		sessionDeleteCmd,
		sessionAddPathCmd,
		sessionRemovePathCmd,
	)
	sessionCurrentCmd.Flags().String("session", "", "Session id (default: current)")
}
