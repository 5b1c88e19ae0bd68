package cmd

import (
	"github.com/marcus/savecontext/internal/config"
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/output"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings in config.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings (file, .env and environment merged)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result := map[string]any{
			"file":     config.Path(dataDir),
			"database": db.Path(dbDir(cmd)),
			"config":   cfg,
		}
		return emit(cmd, result, func() {
			output.Line("file:            %s", config.Path(dataDir))
			output.Line("database:        %s", db.Path(dbDir(cmd)))
			output.Line("driver:          %s", valueOr(cfg.Driver, db.DriverModernc))
			output.Line("busy_timeout:    %s", cfg.BusyTimeout())
			output.Line("lock_timeout:    %s", cfg.LockTimeout())
			output.Line("actor:           %s", valueOr(cfg.Actor, agentFingerprint().String()))
			output.Line("log_level:       %s", cfg.Level())
		})
	},
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set db_dir, driver, actor, log_level, busy_timeout_ms or lock_timeout_ms",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(dataDir, args[0], args[1]); err != nil {
			return fail(cmd, &db.Error{Kind: db.ErrValidation, Op: "set config", Err: err})
		}
		return emit(cmd, map[string]string{args[0]: args[1]}, func() {
			output.Success("Set %s = %s", args[0], args[1])
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
