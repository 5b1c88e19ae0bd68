package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/input"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"cp"},
	Short:   "Snapshot and restore context items",
}

func addFilterFlags(flags *pflag.FlagSet) {
	flags.StringSlice("include-tag", nil, "Only items with any of these tags")
	flags.StringSlice("include-key", nil, "Only items whose key matches any pattern (* wildcard)")
	flags.StringSlice("include-category", nil, "Only items in these categories")
	flags.StringSlice("exclude-tag", nil, "Skip items with any of these tags")
}

// itemFilter builds a filter from the filter flags, nil when none were set
func itemFilter(flags *pflag.FlagSet) *models.ItemFilter {
	get := func(name string) []string {
		v, _ := flags.GetStringSlice(name)
		return splitList(v)
	}
	f := &models.ItemFilter{
		IncludeTags: get("include-tag"),
		IncludeKeys: get("include-key"),
		ExcludeTags: get("exclude-tag"),
	}
	for _, c := range get("include-category") {
		f.IncludeCategories = append(f.IncludeCategories, models.Category(c))
	}
	if f.IsEmpty() {
		return nil
	}
	return f
}

// parseSplit reads one split argument:
//
//	name                      every item
//	name=tag1,tag2            items with any of the tags
//	name=include-key:auth*;exclude-tag:wip
//
// Clauses are separated by ";" and are one of include-tag, include-key,
// include-category or exclude-tag followed by ":" and a comma list. A clause
// without a known prefix is a tag list.
func parseSplit(spec string) (db.CheckpointSplit, error) {
	invalid := func(format string, args ...any) error {
		return &db.Error{Kind: db.ErrValidation, Op: "split checkpoint", Msg: fmt.Sprintf(format, args...)}
	}
	name, clauses, hasFilter := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return db.CheckpointSplit{}, invalid("invalid split %q: expected name or name=filter", spec)
	}
	s := db.CheckpointSplit{Name: name}
	if !hasFilter {
		return s, nil
	}

	f := &models.ItemFilter{}
	for _, clause := range strings.Split(clauses, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		kind, values, _ := strings.Cut(clause, ":")
		list := splitList([]string{values})
		switch strings.TrimSpace(kind) {
		case "include-tag":
			f.IncludeTags = append(f.IncludeTags, list...)
		case "include-key":
			f.IncludeKeys = append(f.IncludeKeys, list...)
		case "exclude-tag":
			f.ExcludeTags = append(f.ExcludeTags, list...)
		case "include-category":
			for _, c := range list {
				if !models.IsValidCategory(models.Category(c)) {
					return db.CheckpointSplit{}, invalid("invalid split %q: unknown category %q", spec, c)
				}
				f.IncludeCategories = append(f.IncludeCategories, models.Category(c))
			}
		default:
			f.IncludeTags = append(f.IncludeTags, splitList([]string{clause})...)
		}
	}
	if !f.IsEmpty() {
		s.Filter = f
	}
	return s, nil
}

func printCheckpoint(c *models.Checkpoint) {
	output.Line("%s  %s  %d items, %d bytes %s", output.FormatID("", c.ID), c.Name, c.ItemCount, c.TotalSize,
		output.Muted(output.FormatTimeAgo(c.CreatedAt)))
	if c.GitBranch != "" {
		output.Line("  branch: %s", c.GitBranch)
	}
	if c.Description != "" {
		output.Line("  %s", c.Description)
	}
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Snapshot the current session's items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			desc, _ := cmd.Flags().GetString("description")
			in := db.CreateCheckpointInput{
				SessionID:   sess.ID,
				Name:        args[0],
				Description: desc,
				Filter:      itemFilter(cmd.Flags()),
				Actor:       actor(cmd),
			}
			if noGit, _ := cmd.Flags().GetBool("no-git"); !noGit {
				in.GitBranch, in.GitStatus = workdir.GitInfo(projectPath(cmd))
			}
			cp, err := database.CreateCheckpoint(in)
			if err != nil {
				return err
			}
			return emit(cmd, cp, func() {
				output.Success("Created checkpoint %s (%s) with %d items", cp.Name, cp.ID, cp.ItemCount)
			})
		})
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints of the current session, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			cps, err := database.ListCheckpoints(sess.ID, limit)
			if err != nil {
				return err
			}
			return emit(cmd, cps, func() {
				for i := range cps {
					printCheckpoint(&cps[i])
				}
				if len(cps) == 0 {
					output.Line("No checkpoints")
				}
			})
		})
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Show a checkpoint and its captured items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			cp, err := database.GetCheckpoint(args[0])
			if err != nil {
				return err
			}
			items, err := database.CheckpointItems(cp.ID)
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"checkpoint": cp, "items": items}, func() {
				printCheckpoint(cp)
				for _, it := range items {
					output.Line("  %s: %s %s", it.Key, output.Truncate(it.Value, 70), output.Muted(string(it.Category)))
				}
			})
		})
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Replace a session's items with a checkpoint's items",
	Long: `Deletes every item of the target session (default: current) and recreates
the checkpoint's items that match the filter flags.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			sess, err := currentSession(cmd, database)
			if err != nil {
				return err
			}
			if err := confirm(cmd, "Replace all items of "+sess.Name+"?"); err != nil {
				return err
			}
			n, err := database.RestoreCheckpoint(args[0], sess.ID, itemFilter(cmd.Flags()), actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, map[string]any{"session_id": sess.ID, "restored": n}, func() {
				output.Success("Restored %d items into %s", n, sess.Name)
			})
		})
	},
}

func checkpointMembershipCmd(use, short string, apply func(*db.DB, string, string, []string, string) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <checkpoint-id> <key>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(database *db.DB) error {
				sess, err := currentSession(cmd, database)
				if err != nil {
					return err
				}
				var in input.Reader
				keys, err := in.Lines(args[1:])
				if err != nil {
					return &db.Error{Kind: db.ErrValidation, Op: use, Err: err}
				}
				n, err := apply(database, args[0], sess.ID, keys, actor(cmd))
				if err != nil {
					return err
				}
				return emit(cmd, map[string]int{"changed": n}, func() { output.Success("%d items changed", n) })
			})
		},
	}
}

var checkpointSplitCmd = &cobra.Command{
	Use:   "split <checkpoint-id> <name[=filter]>...",
	Short: "Create new checkpoints from subsets of a checkpoint",
	Long: `Each argument names a new checkpoint. A bare name receives every item.
"name=tag,..." receives the source items carrying any of those tags.
A filter can also be a ";" separated list of clauses:

  api=include-key:api-*;exclude-tag:wip
  decisions=include-category:decision,progress

Clause names are include-tag, include-key, include-category and exclude-tag.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var splits []db.CheckpointSplit
		for _, spec := range args[1:] {
			s, err := parseSplit(spec)
			if err != nil {
				return fail(cmd, err)
			}
			splits = append(splits, s)
		}
		return withDB(cmd, func(database *db.DB) error {
			created, err := database.SplitCheckpoint(args[0], splits, actor(cmd))
			if err != nil {
				return err
			}
			return emit(cmd, created, func() {
				for i := range created {
					printCheckpoint(&created[i])
				}
			})
		})
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <checkpoint-id>",
	Short: "Delete a checkpoint; live items are untouched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd, func(database *db.DB) error {
			if err := confirm(cmd, "Delete checkpoint "+args[0]+"?"); err != nil {
				return err
			}
			if err := database.DeleteCheckpoint(args[0], actor(cmd)); err != nil {
				return err
			}
			return emit(cmd, map[string]string{"deleted": args[0]}, func() { output.Success("Deleted checkpoint %s", args[0]) })
		})
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.PersistentFlags().String("session", "", "Session id (default: current)")

	checkpointCreateCmd.Flags().String("description", "", "Checkpoint description")
	checkpointCreateCmd.Flags().Bool("no-git", false, "Do not record git branch and status")
	addFilterFlags(checkpointCreateCmd.Flags())

	checkpointListCmd.Flags().Int("limit", 0, "Maximum checkpoints (0 = all)")

	addFilterFlags(checkpointRestoreCmd.Flags())
	addForceFlag(checkpointRestoreCmd)
	addForceFlag(checkpointDeleteCmd)

	checkpointCmd.AddCommand(
		checkpointCreateCmd,
		checkpointListCmd,
		checkpointShowCmd,
		checkpointRestoreCmd,
		checkpointMembershipCmd("add-items", "Capture more of the session's items", (*db.DB).AddCheckpointItems),
		checkpointMembershipCmd("remove-items", "Drop items from a checkpoint", (*db.DB).RemoveCheckpointItems),
		checkpointSplitCmd,
		checkpointDeleteCmd,
	)
}
