package cmd

import (
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/input"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Project facts that outlive sessions (commands, config, notes)",
}

func printMemory(m *models.Memory) {
	output.Line("%s = %s %s", m.Key, output.Truncate(m.Value, 80), output.Muted("("+string(m.Category)+")"))
}

var memorySetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a project memory, replacing any with the same key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			category, _ := cmd.Flags().GetString("category")
			var in input.Reader
			value, err := in.Value(args[1])
			if err != nil {
				return &db.Error{Kind: db.ErrValidation, Op: "set memory", Err: err}
			}
			m, err := database.SetMemory(projectPath(cmd), args[0], value, models.MemoryCategory(category), actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, m, func() { output.Success("Saved %s", m.Key) })
		})
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a project memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			m, err := database.GetMemory(projectPath(cmd), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, m, func() { output.Line("%s", m.Value) })
		})
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			category, _ := cmd.Flags().GetString("category")
			mems, err := database.ListMemory(projectPath(cmd), models.MemoryCategory(category))
			if err != nil {
				return err
			}
			return emit(cmd, mems, func() {
				for i := range mems {
					printMemory(&mems[i])
				}
				if len(mems) == 0 {
					output.Line("No memory for %s", projectPath(cmd))
				}
			})
		})
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a project memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			if err := database.DeleteMemory(projectPath(cmd), args[0], actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": args[0]}, func() { output.Success("Deleted %s", args[0]) })
		})
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)

	memorySetCmd.Flags().String("category", "", "command, config or note (default note)")
	memoryListCmd.Flags().String("category", "", "Filter by category")

	memoryCmd.AddCommand(memorySetCmd, memoryGetCmd, memoryListCmd, memoryDeleteCmd)
}
