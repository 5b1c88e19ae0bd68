package cmd

import (
	"fmt"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

// treeNode converts a stored subtree into its rendered form
func treeNode(t db.IssueTree) output.TreeNode {
	n := output.NodeFromIssue(t.Issue)
	for _, c := range t.Children {
		n.Children = append(n.Children, treeNode(c))
	}
	return n
}

func issueNodes(issues []models.Issue) []output.TreeNode {
	nodes := make([]output.TreeNode, 0, len(issues))
	for _, is := range issues {
		nodes = append(nodes, output.NodeFromIssue(is))
	}
	return nodes
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List issues that can be started now",
	Long: `Lists open, unassigned issues with no unclosed blocker, highest priority
first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			labels, _ := cmd.Flags().GetStringSlice("label")
			limit, _ := cmd.Flags().GetInt("limit")
			sortBy, _ := cmd.Flags().GetString("sort")
			issues, err := database.Ready(db.ReadyOptions{
				ProjectPath: projectPath(cmd),
				Labels:      splitList(labels),
				PriorityMin: optionalInt(cmd.Flags(), "min-priority"),
				Limit:       limit,
				SortBy:      sortBy,
			})
			if err != nil {
				return err
			}
			return emit(cmd, issues, func() { printIssues(issues, "Nothing ready") })
		})
	},
}

var nextBlockCmd = &cobra.Command{
	Use:   "next-block",
	Short: "Claim the next few ready issues",
	Long: `Atomically assigns up to --count ready issues to the caller and moves them
to in_progress. Concurrent agents never receive the same issue.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			count, _ := cmd.Flags().GetInt("count")
			labels, _ := cmd.Flags().GetStringSlice("label")
			claimed, err := database.NextBlock(db.NextBlockOptions{
				ProjectPath: projectPath(cmd),
				Count:       count,
				Labels:      splitList(labels),
				PriorityMin: optionalInt(cmd.Flags(), "min-priority"),
				Agent:       actor(cmd),
			})
			if err != nil {
				return err
			}
			return emit(cmd, claimed, func() { printIssues(claimed, "Nothing ready to claim") })
		})
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <issue>",
	Short: "Show an issue's parent-child hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			id, err := resolveIssueID(cmd, database, args[0])
			if err != nil {
				return err
			}
			tree, err := database.Tree(id)
			if err != nil {
				return err
			}
			depth, _ := cmd.Flags().GetInt("depth")
			return emit(cmd, tree, func() {
				output.Line("%s", output.RenderTree(treeNode(*tree), output.TreeRenderOptions{
					MaxDepth:     depth,
					ShowStatus:   true,
					ShowType:     true,
					ShowPriority: true,
				}))
			})
		})
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List issues waiting on unclosed blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			blocked, err := database.Blocked(projectPath(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, blocked, func() {
				for i := range blocked {
					output.Line("%s", output.FormatIssueShort(&blocked[i].Issue))
					output.Line("%s", output.RenderBlockers(issueNodes(blocked[i].Blockers)))
				}
				if len(blocked) == 0 {
					output.Line("Nothing blocked")
				}
			})
		})
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <issue>",
	Short: "Summarize the children of an epic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			is, err := resolveIssue(cmd, database, args[0])
			if err != nil {
				return err
			}
			p, err := database.Progress(is.ID)
			if err != nil {
				return err
			}
			result := struct {
				*db.EpicProgress
				Issue   string `json:"issue"`
				Percent int    `json:"percent"`
			}{p, is.ShortID, p.Percent()}
			return emit(cmd, result, func() {
				output.Line("%s %s", is.ShortID, is.Title)
				output.Line("%s %d%%", output.RenderProgressBar(p.Percent(), 30), p.Percent())
				output.Line("%s", output.Muted(fmt.Sprintf("%d total: %d open, %d in progress, %d blocked, %d closed, %d deferred",
					p.Total, p.Open, p.InProgress, p.Blocked, p.Closed, p.Deferred)))
			})
		})
	},
}

func init() {
	readyCmd.Flags().StringSliceP("label", "l", nil, "Require all labels")
	readyCmd.Flags().Int("min-priority", 0, "Minimum priority")
	readyCmd.Flags().Int("limit", 0, "Maximum issues (0 = all)")
	readyCmd.Flags().String("sort", "", "priority, created or updated")

	nextBlockCmd.Flags().IntP("count", "n", 3, "Issues to claim")
	nextBlockCmd.Flags().StringSliceP("label", "l", nil, "Require all labels")
	nextBlockCmd.Flags().Int("min-priority", 0, "Minimum priority")

	treeCmd.Flags().Int("depth", 0, "Levels to show including the root (0 = all)")

	issueCmd.AddCommand(readyCmd, nextBlockCmd, treeCmd, blockedCmd, progressCmd)
}
