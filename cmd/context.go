package cmd

import (
	"strings"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/input"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:     "context",
	Aliases: []string{"ctx", "c"},
	Short:   "Save and recall context items in the current session",
}

func printItem(it *models.ContextItem, full bool) {
	value := it.Value
	if !full {
		value = output.Truncate(value, 80)
	}
	meta := string(it.Category)
	if it.Priority != models.ItemPriorityNormal {
		meta += ", " + string(it.Priority)
	}
	if it.Channel != models.DefaultChannel {
		meta += ", #" + it.Channel
	}
	if len(it.Tags) > 0 {
		meta += ", tags: " + strings.Join(it.Tags, " ")
	}
	output.Line("%s: %s %s", it.Key, value, output.Muted("("+meta+")"))
}

var contextSaveCmd = &cobra.Command{
	Use:   "save <key> <value>",
	Short: "Save a context item, replacing any item with the same key",
	Long: `Saves a context item. A value of "-" reads stdin and "@path" reads a file;
write "@@" for a value that starts with a literal "@".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			category, _ := cmd.Flags().GetString("category")
			priority, _ := cmd.Flags().GetString("priority")
			channel, _ := cmd.Flags().GetString("channel")
			if channel == "" {
				channel = sess.Channel
			}
			var in input.Reader
			value, err := in.Value(args[1])
			if err != nil {
				return &db.Error{Kind: db.ErrValidation, Op: "save item", Err: err}
			}
			save := db.SaveItemInput{
				SessionID: sess.ID,
				Key:       args[0],
				Value:     value,
				Category:  models.Category(category),
				Priority:  models.ItemPriority(priority),
				Channel:   channel,
				Actor:     actor(cmd),
			}
			if cmd.Flags().Changed("tag") {
				tags, _ := cmd.Flags().GetStringSlice("tag")
				save.Tags = splitList(tags)
				if save.Tags == nil {
					save.Tags = []string{}
				}
			}
			item, err := database.SaveItem(save)
			if err != nil {
				return err
			}
			return emit(cmd, item, func() { output.Success("Saved %s (%d bytes)", item.Key, item.Size) })
		})
	},
}

var contextGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one context item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			item, err := database.GetItem(sess.ID, args[0])
			if err != nil {
				return err
			}
			return emit(cmd, item, func() { printItem(item, true) })
		})
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List context items, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			category, _ := cmd.Flags().GetString("category")
			priority, _ := cmd.Flags().GetString("priority")
			channel, _ := cmd.Flags().GetString("channel")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			items, err := database.ListItems(sess.ID, db.ItemListFilter{
				Category: models.Category(category),
				Priority: models.ItemPriority(priority),
				Channel:  channel,
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}
			return emit(cmd, items, func() {
				for i := range items {
					printItem(&items[i], false)
				}
				if len(items) == 0 {
					output.Line("No context items in %s", sess.Name)
				}
			})
		})
	},
}

var contextUpdateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Change fields of an existing context item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			u := db.ItemUpdate{
				Channel: optionalString(flags, "channel"),
			}
			if v := optionalString(flags, "value"); v != nil {
				var in input.Reader
				value, err := in.Value(*v)
				if err != nil {
					return &db.Error{Kind: db.ErrValidation, Op: "update item", Err: err}
				}
				u.Value = &value
			}
			if c := optionalString(flags, "category"); c != nil {
				cat := models.Category(*c)
				u.Category = &cat
			}
			if p := optionalString(flags, "priority"); p != nil {
				pri := models.ItemPriority(*p)
				u.Priority = &pri
			}
			if flags.Changed("tag") {
				tags, _ := flags.GetStringSlice("tag")
				list := splitList(tags)
				if list == nil {
					list = []string{}
				}
				u.Tags = &list
			}
			item, err := database.UpdateItem(sess.ID, args[0], u, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, item, func() { output.Success("Updated %s", item.Key) })
		})
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a context item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			if err := database.DeleteItem(sess.ID, args[0], actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": args[0]}, func() { output.Success("Deleted %s", args[0]) })
		})
	},
}

func tagCmd(action db.TagAction) *cobra.Command {
	c := &cobra.Command{
		Use:   string(action) + " <tag>...",
		Short: "Bulk " + string(action) + " tags on items selected by key or pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(database *db.DB) error {
				sess, err := currentSession(cmd, database)
				if err != nil {
					return err
				}
				flagKeys, _ := cmd.Flags().GetStringSlice("key")
				var in input.Reader
				keys, err := in.Lines(splitList(flagKeys))
				if err != nil {
					return &db.Error{Kind: db.ErrValidation, Op: "tag items", Err: err}
				}
				pattern, _ := cmd.Flags().GetString("pattern")
				n, err := database.TagItems(sess.ID, db.TagRequest{
					Keys:       keys,
					KeyPattern: pattern,
					Tags:       splitList(args),
					Action:     action,
				}, actor(cmd))
				if err != nil {
					return err
				}
				return emit(cmd, map[string]int{"updated": n}, func() { output.Success("Updated %d items", n) })
			})
		},
	}
	c.Flags().StringSlice("key", nil, "Exact item keys (@file or - for one key per line)")
	c.Flags().String("pattern", "", "Key pattern where * matches any run of characters")
	return c
}

var contextTagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Add or remove tags in bulk",
}

var contextSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search item keys and values",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			results, err := database.SearchItems(sess.ID, args[0], limit)
			if err != nil {
				return err
			}
			return emit(cmd, results, func() {
				for i := range results {
					printItem(&results[i].Item, false)
				}
				if len(results) == 0 {
					output.Line("No items matching '%s'", args[0])
				}
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.PersistentFlags().String("session", "", "Session id (default: current)")

	for _, c := range []*cobra.Command{contextSaveCmd, contextUpdateCmd} {
		c.Flags().String("category", "", "reminder, decision, progress or note")
		c.Flags().String("priority", "", "high, normal or low")
		c.Flags().String("channel", "", "Channel (default: session channel or general)")
		c.Flags().StringSlice("tag", nil, "Tags (replaces existing tags)")
	}
	contextUpdateCmd.Flags().String("value", "", "New value (- for stdin, @path for a file)")

	contextListCmd.Flags().String("category", "", "Filter by category")
	contextListCmd.Flags().String("priority", "", "Filter by priority")
	contextListCmd.Flags().String("channel", "", "Filter by channel")
	contextListCmd.Flags().Int("limit", 0, "Maximum items (0 = all)")
	contextListCmd.Flags().Int("offset", 0, "Skip this many items")

	contextSearchCmd.Flags().Int("limit", 10, "Maximum results")

	contextTagCmd.AddCommand(tagCmd(db.TagAdd), tagCmd(db.TagRemove))
	contextCmd.AddCommand(
		contextSaveCmd,
		contextGetCmd,
		contextListCmd,
		contextUpdateCmd,
		contextDeleteCmd,
		contextTagCmd,
		contextSearchCmd,
	)
}
