package cmd

import (
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	Short:   "Inspect and configure registered projects",
}

func printProject(p *models.Project) {
	output.Line("%s  %s", p.Path, p.Name)
	if p.Description != "" {
		output.Line("  %s", p.Description)
	}
	output.Line("  issues %s-%d, plans %s-%d", p.IssuePrefix, p.NextIssueNumber, p.PlanPrefix, p.NextPlanNumber)
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			projects, err := database.ListProjects()
			if err != nil {
				return err
			}
			return emit(cmd, projects, func() {
				for i := range projects {
					printProject(&projects[i])
				}
				if len(projects) == 0 {
					output.Line("No projects (run 'sc init')")
				}
			})
		})
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			p, err := database.GetProject(projectPath(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, p, func() { printProject(p) })
		})
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change the current project's name, description or prefixes",
	Long: `Changing a prefix affects new short ids only; existing issues and plans
keep theirs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			p, err := database.UpdateProject(projectPath(cmd), db.ProjectUpdate{
				Name:        optionalString(flags, "name"),
				Description: optionalString(flags, "description"),
				IssuePrefix: optionalString(flags, "issue-prefix"),
				PlanPrefix:  optionalString(flags, "plan-prefix"),
			}, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, p, func() { output.Success("Updated %s", p.Path) })
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the current project with its issues, plans and memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			path := projectPath(cmd)
			if err := confirm(cmd, "Delete project "+path+" and all its issues and plans?"); err != nil {
				return err
			}
			if err := database.DeleteProject(path, actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": path}, func() { output.Success("Deleted project %s", path) })
		})
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)

	projectUpdateCmd.Flags().String("name", "", "Display name")
	projectUpdateCmd.Flags().String("description", "", "Description")
	projectUpdateCmd.Flags().String("issue-prefix", "", "Prefix of new issue short ids")
	projectUpdateCmd.Flags().String("plan-prefix", "", "Prefix of new plan short ids")
	addForceFlag(projectDeleteCmd)

	projectCmd.AddCommand(projectListCmd, projectShowCmd, projectUpdateCmd, projectDeleteCmd)
}
