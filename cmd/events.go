package cmd

import (
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"log"},
	Short:   "Show the audit log, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			entityType, _ := cmd.Flags().GetString("type")
			entityID, _ := cmd.Flags().GetString("id")
			limit, _ := cmd.Flags().GetInt("limit")
			events, err := database.ListEvents(db.EventFilter{EntityType: entityType, EntityID: entityID, Limit: limit})
			if err != nil {
				return err
			}
			return emit(cmd, events, func() {
				for _, e := range events {
					output.Line("%s  %-12s %-10s %s %s", output.Muted(e.CreatedAt.Local().Format("2006-01-02 15:04:05")),
						e.EntityType, e.EventType, e.EntityID, output.Muted(e.Actor))
				}
				if len(events) == 0 {
					output.Line("No events")
				}
			})
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write sessions, items, checkpoints, issues, plans and memory as JSONL",
	Long: `Writes one JSONL file per entity type into <dir>. Every record carries a
content hash so exports can be diffed. Only the current project is exported
unless --all-projects is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			project := projectPath(cmd)
			if all, _ := cmd.Flags().GetBool("all-projects"); all {
				project = ""
			}
			res, err := database.ExportJSONL(cmd.Context(), args[0], project)
			if err != nil {
				return err
			}
			return emit(cmd, res, func() {
				output.Success("Exported to %s", res.Dir)
				for _, name := range exportFiles {
					output.Line("  %-20s %d", name, res.Counts[name])
				}
			})
		})
	},
}

var exportFiles = []string{db.ExportSessions, db.ExportItems, db.ExportCheckpoints, db.ExportIssues, db.ExportPlans, db.ExportMemory}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Merge a JSONL export into the database",
	Long: `Reads the files written by 'sc export' from <dir> and merges them in one
transaction. When a record already exists locally with different content,
--strategy picks the winner: prefer-newer (default) compares updated times,
prefer-local keeps the local row and prefer-external takes the imported one.
Records whose session is missing are skipped; records that would reuse a
short id or key held by another row are counted as conflicts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			s, _ := cmd.Flags().GetString("strategy")
			strategy, err := db.ParseMergeStrategy(s)
			if err != nil {
				return err
			}
			res, err := database.ImportJSONL(cmd.Context(), workdir.NormalizePath(args[0]), strategy, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, res, func() {
				output.Success("Imported %s (%s)", res.Dir, res.Strategy)
				output.Line("  %-20s %7s %7s %7s %9s", "", "created", "updated", "skipped", "conflicts")
				for _, name := range append(exportFiles, db.ImportDependencies) {
					st := res.Stats[name]
					output.Line("  %-20s %7d %7d %7d %9d", name, st.Created, st.Updated, st.Skipped, st.Conflicts)
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd, exportCmd, importCmd)

	eventsCmd.Flags().String("type", "", "Entity type (session, context_item, checkpoint, issue, plan, project, memory)")
	eventsCmd.Flags().String("id", "", "Entity id")
	eventsCmd.Flags().Int("limit", 50, "Maximum events")

	exportCmd.Flags().Bool("all-projects", false, "Export every project")
	importCmd.Flags().String("strategy", string(db.PreferNewer), "Merge strategy: prefer-newer, prefer-local or prefer-external")
}
