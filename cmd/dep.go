package cmd

import (
	"sort"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var depCmd = &cobra.Command{
	Use:     "dep",
	Aliases: []string{"deps"},
	Short:   "Manage typed dependencies between issues",
}

var depAddCmd = &cobra.Command{
	Use:   "add <issue> <depends-on>",
	Short: "Make an issue depend on another",
	Long: `Adds an edge from <issue> to <depends-on>. Only "blocks" edges gate readiness;
the other types (related, parent-child, duplicate-of, discovered-from) are
informational. Edges that would close a blocking cycle are rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			from, err := resolveIssue(cmd, database, args[0])
			if err != nil {
				return err
			}
			to, err := resolveIssue(cmd, database, args[1])
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetString("type")
			if err := database.AddDependency(from.ID, to.ID, models.DependencyType(typ), actor(cmd)); err != nil {
				return err
			}
			result := map[string]string{"issue": from.ShortID, "depends_on": to.ShortID, "type": typ}
			return emit(cmd, result, func() {
				output.Success("%s %s %s", from.ShortID, typ, to.ShortID)
			})
		})
	},
}

var depRemoveCmd = &cobra.Command{
	Use:     "remove <issue> <depends-on>",
	Aliases: []string{"rm"},
	Short:   "Remove the dependency between two issues",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			from, err := resolveIssue(cmd, database, args[0])
			if err != nil {
				return err
			}
			to, err := resolveIssue(cmd, database, args[1])
			if err != nil {
				return err
			}
			if err := database.RemoveDependency(from.ID, to.ID, actor(cmd)); err != nil {
				return err
			}
			result := map[string]string{"issue": from.ShortID, "depends_on": to.ShortID}
			return emit(cmd, result, func() { output.Success("Removed %s -> %s", from.ShortID, to.ShortID) })
		})
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <issue>",
	Short: "List an issue's dependencies and dependents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			is, err := resolveIssue(cmd, database, args[0])
			if err != nil {
				return err
			}
			deps, err := database.Dependencies(is.ID)
			if err != nil {
				return err
			}
			dependents, err := database.Dependents(is.ID)
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"dependencies": deps, "dependents": dependents}, func() {
				output.Line("%s", output.FormatIssueShort(is))
				printEdges(database, "Depends on", deps, func(d models.Dependency) string { return d.DependsOnID })
				printEdges(database, "Depended on by", dependents, func(d models.Dependency) string { return d.IssueID })
				if len(deps)+len(dependents) == 0 {
					output.Line("No dependencies")
				}
			})
		})
	},
}

var labelCmd = &cobra.Command{
	Use:     "label",
	Aliases: []string{"labels"},
	Short:   "Manage issue labels",
}

func labelChangeCmd(use, short string, apply func(*db.DB, string, []string, string) (*models.Issue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <issue> <label>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(database *db.DB) error {
				id, err := resolveIssueID(cmd, database, args[0])
				if err != nil {
					return err
				}
				is, err := apply(database, id, splitList(args[1:]), actor(cmd))
				if err != nil {
					return err
				}
				return emit(cmd, is, func() { output.Line("%s", output.FormatIssueShort(is)) })
			})
		},
	}
}

var labelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the labels used in the project with their issue counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			counts, err := database.ProjectLabels(projectPath(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, counts, func() {
				names := make([]string, 0, len(counts))
				for name := range counts {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					output.Line("#%-20s %d", name, counts[name])
				}
				if len(names) == 0 {
					output.Line("No labels")
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(depCmd, labelCmd)

	depAddCmd.Flags().StringP("type", "t", string(models.DepBlocks), "blocks, related, parent-child, duplicate-of or discovered-from")
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depListCmd)

	labelCmd.AddCommand(
		labelChangeCmd("add", "Add labels to an issue", (*db.DB).AddLabels),
		labelChangeCmd("remove", "Remove labels from an issue", (*db.DB).RemoveLabels),
		labelListCmd,
	)
}
