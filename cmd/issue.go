package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var issueCmd = &cobra.Command{
	Use:     "issue",
	Aliases: []string{"issues", "i"},
	Short:   "Track project issues with dependencies and labels",
}

// resolveIssue looks ref up in the current project first so short ids need
// no qualification, then anywhere by full id
func resolveIssue(cmd *cobra.Command, database *db.DB, ref string) (*models.Issue, error) {
	is, err := database.GetIssueInProject(projectPath(cmd), ref)
	if errors.Is(err, db.ErrNotFound) {
		return database.GetIssue(ref)
	}
	return is, err
}

func resolveIssueID(cmd *cobra.Command, database *db.DB, ref string) (string, error) {
	is, err := resolveIssue(cmd, database, ref)
	if err != nil {
		return "", err
	}
	return is.ID, nil
}

// parseDepSpec reads "REF" or "type:REF"; the type defaults to blocks
func parseDepSpec(spec string) (string, models.DependencyType) {
	if typ, ref, ok := strings.Cut(spec, ":"); ok && models.IsValidDependencyType(models.DependencyType(typ)) {
		return ref, models.DependencyType(typ)
	}
	return spec, models.DepBlocks
}

func addIssueFieldFlags(flags *pflag.FlagSet) {
	flags.StringP("description", "d", "", "Description")
	flags.String("details", "", "Implementation details")
	flags.IntP("priority", "p", models.PriorityMedium, "Priority 0 (lowest) to 4 (critical)")
	flags.StringP("type", "t", "", "task, bug, feature, epic or chore")
	flags.String("plan", "", "Plan id or short id")
}

// planID resolves a --plan flag value to a plan id within the project
func planID(cmd *cobra.Command, database *db.DB, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	p, err := database.GetPlanInProject(projectPath(cmd), ref)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

var issueCreateCmd = &cobra.Command{
	Use:     "create <title>",
	Aliases: []string{"new", "add"},
	Short:   "Create an issue",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			desc, _ := flags.GetString("description")
			details, _ := flags.GetString("details")
			typ, _ := flags.GetString("type")
			status, _ := flags.GetString("status")
			parent, _ := flags.GetString("parent")
			labels, _ := flags.GetStringSlice("label")
			deps, _ := flags.GetStringSlice("depends-on")
			planRef, _ := flags.GetString("plan")

			plan, err := planID(cmd, database, planRef)
			if err != nil {
				return err
			}
			in := db.CreateIssueInput{
				ProjectPath: projectPath(cmd),
				Title:       args[0],
				Description: desc,
				Details:     details,
				Status:      models.Status(status),
				Priority:    optionalInt(flags, "priority"),
				Type:        models.Type(typ),
				PlanID:      plan,
				Labels:      splitList(labels),
				Actor:       actor(cmd),
			}
			if parent != "" {
				if in.ParentID, err = resolveIssueID(cmd, database, parent); err != nil {
					return err
				}
			}
			for _, spec := range splitList(deps) {
				ref, typ := parseDepSpec(spec)
				id, err := resolveIssueID(cmd, database, ref)
				if err != nil {
					return err
				}
				in.DependsOn = append(in.DependsOn, db.DependencySpec{ID: id, Type: typ})
			}
			if sess, err := currentSession(cmd, database); err == nil {
				in.SessionID = sess.ID
			}

			is, err := database.CreateIssue(in)
			if err != nil {
				return err
			}
			return emit(cmd, is, func() { output.Success("Created %s: %s", is.ShortID, is.Title) })
		})
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue>",
	Short: "Show an issue with its relations",
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
			children, err := database.Children(is.ID)
			if err != nil {
				return err
			}
			result := map[string]any{
				"issue":        is,
				"dependencies": deps,
				"dependents":   dependents,
				"children":     children,
			}
			return emit(cmd, result, func() {
				output.Line("%s", output.FormatIssueLong(is))
				printEdges(database, "Depends on", deps, func(d models.Dependency) string { return d.DependsOnID })
				printEdges(database, "Depended on by", dependents, func(d models.Dependency) string { return d.IssueID })
				if len(children) > 0 {
					output.Line("\nCHILDREN")
					nodes := make([]output.TreeNode, 0, len(children))
					for _, c := range children {
						nodes = append(nodes, output.NodeFromIssue(c))
					}
					for _, l := range output.RenderChildrenList(nodes) {
						output.Line("%s", l)
					}
				}
			})
		})
	},
}

func printEdges(database *db.DB, title string, edges []models.Dependency, other func(models.Dependency) string) {
	var shown []string
	for _, d := range edges {
		if d.Type == models.DepParentChild {
			continue
		}
		label := other(d)
		if is, err := database.GetIssue(label); err == nil {
			label = is.ShortID + " " + is.Title + " " + output.FormatStatus(is.Status)
		}
		shown = append(shown, fmt.Sprintf("  %s %s", d.Type, label))
	}
	if len(shown) == 0 {
		return
	}
	output.Line("\n%s", strings.ToUpper(title))
	for _, s := range shown {
		output.Line("%s", s)
	}
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues (closed excluded unless --status closed or all)",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			status, _ := flags.GetString("status")
			typ, _ := flags.GetString("type")
			labels, _ := flags.GetStringSlice("label")
			anyLabels, _ := flags.GetStringSlice("any-label")
			assignee, _ := flags.GetString("assignee")
			parent, _ := flags.GetString("parent")
			planRef, _ := flags.GetString("plan")
			search, _ := flags.GetString("search")
			limit, _ := flags.GetInt("limit")
			sortBy, _ := flags.GetString("sort")

			f := db.IssueFilter{
				ProjectPath: projectPath(cmd),
				Status:      status,
				Type:        models.Type(typ),
				Labels:      splitList(labels),
				LabelsAny:   splitList(anyLabels),
				PriorityMin: optionalInt(flags, "min-priority"),
				PriorityMax: optionalInt(flags, "max-priority"),
				Assignee:    assignee,
				Search:      search,
				Limit:       limit,
				SortBy:      sortBy,
			}
			var err error
			if parent != "" {
				if f.ParentID, err = resolveIssueID(cmd, database, parent); err != nil {
					return err
				}
			}
			if f.PlanID, err = planID(cmd, database, planRef); err != nil {
				return err
			}

			issues, err := database.ListIssues(f)
			if err != nil {
				return err
			}
			return emit(cmd, issues, func() { printIssues(issues, "No issues") })
		})
	},
}

func printIssues(issues []models.Issue, empty string) {
	for i := range issues {
		output.Line("%s", output.FormatIssueShort(&issues[i]))
	}
	if len(issues) == 0 {
		output.Line("%s", empty)
	}
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue>",
	Short: "Change fields of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			u := db.IssueUpdate{
				Title:       optionalString(flags, "title"),
				Description: optionalString(flags, "description"),
				Details:     optionalString(flags, "details"),
				Priority:    optionalInt(flags, "priority"),
				Assignee:    optionalString(flags, "assignee"),
			}
			if s := optionalString(flags, "status"); s != nil {
				st := models.Status(*s)
				u.Status = &st
			}
			if t := optionalString(flags, "type"); t != nil {
				typ := models.Type(*t)
				u.Type = &typ
			}
			if p := optionalString(flags, "plan"); p != nil {
				pid, err := planID(cmd, database, *p)
				if err != nil {
					return err
				}
				u.PlanID = &pid
			}
			if p := optionalString(flags, "parent"); p != nil {
				pid := ""
				if *p != "" {
					if pid, err = resolveIssueID(cmd, database, *p); err != nil {
						return err
					}
				}
				u.ParentID = &pid
			}
			is, err := database.UpdateIssue(id, u, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, is, func() { output.Success("Updated %s", is.ShortID) })
		})
	},
}

// issueStatusCmd builds close, reopen and defer, which only change the status
func issueStatusCmd(use, short string, status models.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <issue>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(database *db.DB) error {
				var updated []*models.Issue
				for _, ref := range args {
					id, err := resolveIssueID(cmd, database, ref)
					if err != nil {
						return err
					}
					st := status
					is, err := database.UpdateIssue(id, db.IssueUpdate{Status: &st}, actor(cmd))
					if err != nil {
						return err
					}
					updated = append(updated, is)
				}
				return emit(cmd, updated, func() {
					for _, is := range updated {
						output.Success("%s %s", is.ShortID, output.FormatStatus(is.Status))
					}
				})
			})
		},
	}
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <issue>",
	Short: "Delete an issue with its labels and edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			is, err := resolveIssue(cmd, database, args[0])
			if err != nil {
				return err
			}
			if err := confirm(cmd, fmt.Sprintf("Delete %s %q?", is.ShortID, is.Title)); err != nil {
				return err
			}
			if err := database.DeleteIssue(is.ID, actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": is.ShortID}, func() { output.Success("Deleted %s", is.ShortID) })
		})
	},
}

var issueCloneCmd = &cobra.Command{
	Use:   "clone <issue>",
	Short: "Copy an issue into a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			skipLabels, _ := flags.GetBool("no-labels")
			skipParent, _ := flags.GetBool("no-parent")
			o := db.CloneOverrides{
				Title:       optionalString(flags, "title"),
				Description: optionalString(flags, "description"),
				Priority:    optionalInt(flags, "priority"),
				SkipLabels:  skipLabels,
				SkipParent:  skipParent,
				Actor:       actor(cmd),
			}
			if t := optionalString(flags, "type"); t != nil {
				typ := models.Type(*t)
				o.Type = &typ
			}
			clone, err := database.CloneIssue(id, o)
			if err != nil {
				return err
			}
			return emit(cmd, clone, func() { output.Success("Cloned %s as %s", args[0], clone.ShortID) })
		})
	},
}

var issueDuplicateCmd = &cobra.Command{
	Use:   "duplicate <issue> <of-issue>",
	Short: "Close an issue as a duplicate of another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			of, err := resolveIssueID(cmd, database, args[1])
			if err != nil {
				return err
			}
			is, err := database.MarkDuplicate(id, of, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, is, func() { output.Success("%s closed as duplicate of %s", is.ShortID, args[1]) })
		})
	},
}

var issueClaimCmd = &cobra.Command{
	Use:   "claim <issue>",
	Short: "Assign an issue to yourself and start it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			is, err := database.ClaimIssue(id, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, is, func() { output.Success("Claimed %s: %s", is.ShortID, is.Title) })
		})
	},
}

var issueReleaseCmd = &cobra.Command{
	Use:   "release <issue>",
	Short: "Give up an issue you claimed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			is, err := database.ReleaseIssue(id, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, is, func() { output.Success("Released %s", is.ShortID) })
		})
	},
}

func init() {
	rootCmd.AddCommand(issueCmd)

	addIssueFieldFlags(issueCreateCmd.Flags())
	issueCreateCmd.Flags().String("status", "", "Initial status (default open)")
	issueCreateCmd.Flags().String("parent", "", "Parent issue")
	issueCreateCmd.Flags().StringSliceP("label", "l", nil, "Labels")
	issueCreateCmd.Flags().StringSlice("depends-on", nil, "Dependencies as ISSUE or type:ISSUE")

	issueListCmd.Flags().StringP("status", "s", "", "open, in_progress, blocked, closed, deferred or all")
	issueListCmd.Flags().StringP("type", "t", "", "Filter by type")
	issueListCmd.Flags().StringSliceP("label", "l", nil, "Require all labels")
	issueListCmd.Flags().StringSlice("any-label", nil, "Require at least one label")
	issueListCmd.Flags().Int("min-priority", 0, "Minimum priority")
	issueListCmd.Flags().Int("max-priority", 4, "Maximum priority")
	issueListCmd.Flags().String("assignee", "", "Filter by assignee")
	issueListCmd.Flags().String("parent", "", "Only children of this issue")
	issueListCmd.Flags().String("plan", "", "Only issues of this plan")
	issueListCmd.Flags().String("search", "", "Match title or description")
	issueListCmd.Flags().Int("limit", 0, "Maximum issues (0 = all)")
	issueListCmd.Flags().String("sort", "", "priority, created or updated")

	addIssueFieldFlags(issueUpdateCmd.Flags())
	issueUpdateCmd.Flags().String("title", "", "New title")
	issueUpdateCmd.Flags().StringP("status", "s", "", "New status")
	issueUpdateCmd.Flags().String("assignee", "", "Assignee (empty clears)")
	issueUpdateCmd.Flags().String("parent", "", "Parent issue (empty clears)")

	addForceFlag(issueDeleteCmd)

	issueCloneCmd.Flags().String("title", "", "Title of the clone")
	issueCloneCmd.Flags().StringP("description", "d", "", "Description of the clone")
	issueCloneCmd.Flags().IntP("priority", "p", models.PriorityMedium, "Priority of the clone")
	issueCloneCmd.Flags().StringP("type", "t", "", "Type of the clone")
	issueCloneCmd.Flags().Bool("no-labels", false, "Do not copy labels")
	issueCloneCmd.Flags().Bool("no-parent", false, "Do not copy the parent link")

	issueCmd.AddCommand(
		issueCreateCmd,
		issueShowCmd,
		issueListCmd,
		issueUpdateCmd,
		issueStatusCmd("close", "Close issues", models.StatusClosed),
		issueStatusCmd("reopen", "Reopen issues", models.StatusOpen),
		issueStatusCmd("defer", "Defer issues", models.StatusDeferred),
		issueDeleteCmd,
		issueCloneCmd,
		issueDuplicateCmd,
		issueClaimCmd,
		issueReleaseCmd,
	)
}
