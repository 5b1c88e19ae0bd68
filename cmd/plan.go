package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/input"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/planfile"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:     "plan",
	Aliases: []string{"plans"},
	Short:   "Write plans and group issues under them",
}

func resolvePlan(cmd *cobra.Command, database *db.DB, ref string) (*models.Plan, error) {
	return database.GetPlanInProject(projectPath(cmd), ref)
}

// renderMarkdown renders content for the terminal, or returns it unchanged
// when stdout is not a terminal
func renderMarkdown(content string) string {
	if !output.IsTTY() {
		return content
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

func printPlanLine(p *models.Plan) {
	output.Line("%s  %s [%s] %s", p.ShortID, p.Title, p.Status, output.Muted(output.FormatTimeAgo(p.UpdatedAt)))
}

var planCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			raw, _ := cmd.Flags().GetString("content")
			var in input.Reader
			content, err := in.Value(raw)
			if err != nil {
				return &db.Error{Kind: db.ErrValidation, Op: "create plan", Err: err}
			}
			status, _ := cmd.Flags().GetString("status")
			criteria, _ := cmd.Flags().GetString("success-criteria")
			p, err := database.CreatePlan(db.CreatePlanInput{
				ProjectPath:     projectPath(cmd),
				Title:           args[0],
				Content:         content,
				Status:          models.PlanStatus(status),
				SuccessCriteria: criteria,
				Actor:           actor(cmd),
			})
			if err != nil {
				return err
			}
			return emit(cmd, p, func() { output.Success("Created plan %s: %s", p.ShortID, p.Title) })
		})
	},
}

var planImportCmd = &cobra.Command{
	Use:   "import <file.md>",
	Short: "Create a plan and its issues from a markdown file",
	Long: `Reads a markdown plan. Optional YAML front matter sets title, status,
success_criteria, project and a list of issues to create under the plan;
without a title the first "# " heading is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := planfile.ParseFile(args[0])
		if err != nil {
			return fail(cmd, &db.Error{Kind: db.ErrValidation, Op: "import plan", Err: err})
		}
		return withDB(cmd, func(database *db.DB) error {
			project := projectPath(cmd)
			if pf.Project != "" {
				project = workdir.NormalizePath(pf.Project)
			}
			p, err := database.CreatePlan(db.CreatePlanInput{
				ProjectPath:     project,
				Title:           pf.Title,
				Content:         pf.Content,
				Status:          models.PlanStatus(pf.Status),
				SuccessCriteria: pf.SuccessCriteria,
				Actor:           actor(cmd),
			})
			if err != nil {
				return err
			}

			issues := make([]*models.Issue, 0, len(pf.Issues))
			for _, spec := range pf.Issues {
				is, err := database.CreateIssue(db.CreateIssueInput{
					ProjectPath: project,
					Title:       spec.Title,
					Description: spec.Description,
					Type:        models.Type(spec.Type),
					Priority:    spec.Priority,
					Labels:      spec.Labels,
					PlanID:      p.ID,
					Actor:       actor(cmd),
				})
				if err != nil {
					return fmt.Errorf("plan %s created, issue %q failed: %w", p.ShortID, spec.Title, err)
				}
				issues = append(issues, is)
			}
			logger.Debug("imported plan", "plan", p.ShortID, "issues", len(issues))

			return emit(cmd, map[string]any{"plan": p, "issues": issues}, func() {
				output.Success("Imported plan %s: %s", p.ShortID, p.Title)
				for _, is := range issues {
					output.Line("  %s", output.FormatIssueShort(is))
				}
			})
		})
	},
}

var planListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List plans, newest first (archived excluded unless --status)",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			status, _ := cmd.Flags().GetString("status")
			plans, err := database.ListPlans(projectPath(cmd), status)
			if err != nil {
				return err
			}
			return emit(cmd, plans, func() {
				for i := range plans {
					printPlanLine(&plans[i])
				}
				if len(plans) == 0 {
					output.Line("No plans")
				}
			})
		})
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan>",
	Short: "Show a plan with its issues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			p, err := resolvePlan(cmd, database, args[0])
			if err != nil {
				return err
			}
			issues, err := database.ListIssues(db.IssueFilter{PlanID: p.ID, Status: db.StatusAll})
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"plan": p, "issues": issues}, func() {
				printPlanLine(p)
				if p.SuccessCriteria != "" {
					output.Line("Success criteria: %s", p.SuccessCriteria)
				}
				if strings.TrimSpace(p.Content) != "" {
					output.Line("\n%s", renderMarkdown(p.Content))
				}
				if len(issues) > 0 {
					output.Line("\nISSUES")
					printIssues(issues, "")
				}
			})
		})
	},
}

var planUpdateCmd = &cobra.Command{
	Use:   "update <plan>",
	Short: "Change a plan's fields or move it to another project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			flags := cmd.Flags()
			p, err := resolvePlan(cmd, database, args[0])
			if err != nil {
				return err
			}
			u := db.PlanUpdate{
				Title:           optionalString(flags, "title"),
				SuccessCriteria: optionalString(flags, "success-criteria"),
			}
			if raw := optionalString(flags, "content"); raw != nil {
				var in input.Reader
				content, err := in.Value(*raw)
				if err != nil {
					return &db.Error{Kind: db.ErrValidation, Op: "update plan", Err: err}
				}
				u.Content = &content
			}
			if s := optionalString(flags, "status"); s != nil {
				st := models.PlanStatus(*s)
				u.Status = &st
			}
			if target := optionalString(flags, "move-to"); target != nil {
				path := workdir.NormalizePath(*target)
				u.ProjectPath = &path
			}
			updated, err := database.UpdatePlan(p.ID, u, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, updated, func() { output.Success("Updated plan %s", updated.ShortID) })
		})
	},
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan>",
	Short: "Delete a plan; its issues are kept and unlinked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			p, err := resolvePlan(cmd, database, args[0])
			if err != nil {
				return err
			}
			if err := confirm(cmd, fmt.Sprintf("Delete plan %s %q?", p.ShortID, p.Title)); err != nil {
				return err
			}
			if err := database.DeletePlan(p.ID, actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": p.ShortID}, func() { output.Success("Deleted plan %s", p.ShortID) })
		})
	},
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCreateCmd.Flags().String("content", "", "Plan body in markdown (- for stdin, @path for a file)")
	planCreateCmd.Flags().String("status", "", "draft, active, completed or archived (default draft)")
	planCreateCmd.Flags().String("success-criteria", "", "How to tell the plan is done")

	planListCmd.Flags().String("status", "", "Filter by status, or all")

	planUpdateCmd.Flags().String("title", "", "New title")
	planUpdateCmd.Flags().String("content", "", "New body (- for stdin, @path for a file)")
	planUpdateCmd.Flags().String("status", "", "New status")
	planUpdateCmd.Flags().String("success-criteria", "", "New success criteria")
	planUpdateCmd.Flags().String("move-to", "", "Move the plan to another project path")

	addForceFlag(planDeleteCmd)

	planCmd.AddCommand(planCreateCmd, planImportCmd, planListCmd, planShowCmd, planUpdateCmd, planDeleteCmd)
}
