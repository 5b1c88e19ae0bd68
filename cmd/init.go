package cmd

import (
	"github.com/marcus/savecontext/internal/agent"
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and register the current project",
	Long: `Creates the SaveContext database if needed, registers the current project
and adds usage notes to the project's agent instruction file (AGENTS.md,
CLAUDE.md, ...). Re-running init refreshes the notes in place.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			path := projectPath(cmd)
			project, err := database.GetOrCreateProject(path)
			if err != nil {
				return err
			}
			if prefix := optionalString(cmd.Flags(), "prefix"); prefix != nil {
				project, err = database.UpdateProject(path, db.ProjectUpdate{IssuePrefix: prefix}, actor(cmd))
				if err != nil {
					return err
				}
			}

			agentFile := ""
			if skip, _ := cmd.Flags().GetBool("no-agent-file"); !skip {
				agentFile, _ = cmd.Flags().GetString("agent-file")
				if agentFile == "" {
					agentFile = agent.PreferredAgentFile(path)
				}
				if err := agent.InstallInstructions(agentFile); err != nil {
					return err
				}
			}

			result := map[string]any{
				"database":   db.Path(database.BaseDir()),
				"project":    project,
				"agent_file": agentFile,
			}
			return emit(cmd, result, func() {
				output.Success("Initialized %s", db.Path(database.BaseDir()))
				output.Line("Project: %s (issue prefix %s)", project.Path, project.IssuePrefix)
				if agentFile != "" {
					output.Line("Agent instructions: %s", agentFile)
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("prefix", "", "Issue short id prefix for this project")
	initCmd.Flags().String("agent-file", "", "Agent instruction file to update (default: detected)")
	initCmd.Flags().Bool("no-agent-file", false, "Do not touch agent instruction files")
}
