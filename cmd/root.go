package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/marcus/savecontext/internal/config"
	"github.com/marcus/savecontext/internal/db"
	"github.com/marcus/savecontext/internal/models"
	"github.com/marcus/savecontext/internal/output"
	"github.com/marcus/savecontext/internal/session"
	"github.com/marcus/savecontext/internal/workdir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version string

	// resolved in PersistentPreRunE
	cfg     *config.Config
	dataDir string
	logger  = slog.Default()
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "sc",
	Short: "Persist and recover AI coding context",
	Long: `sc - SaveContext keeps working context for AI coding assistants in a local database.

Sessions hold tagged context items, checkpoints snapshot them, and a project
issue graph tracks work with dependencies, labels and short ids.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db-dir", "", "Directory holding savecontext.db (default: data dir)")
	pf.String("project", "", "Project path (default: git root of the working directory)")
	pf.String("actor", "", "Actor recorded in the audit log")
	pf.Bool("json", false, "Output JSON")
	pf.BoolP("verbose", "v", false, "Debug logging")
}

func setup(cmd *cobra.Command, _ []string) error {
	dataDir = workdir.DataDir()
	loaded, err := config.Load(dataDir)
	if err != nil {
		return fail(cmd, err)
	}
	cfg = loaded

	level := cfg.Level()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(output.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func dbOptions() db.Options {
	return db.Options{
		Driver:      cfg.Driver,
		BusyTimeout: cfg.BusyTimeout(),
		LockTimeout: cfg.LockTimeout(),
		Logger:      logger,
	}
}

func dbDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("db-dir"); dir != "" {
		return workdir.NormalizePath(dir)
	}
	return cfg.ResolveDBDir(dataDir)
}

// openDB opens the database, creating it on first use
func openDB(cmd *cobra.Command) (*db.DB, error) {
	database, err := db.InitializeWithOptions(dbDir(cmd), dbOptions())
	if err != nil {
		return nil, err
	}
	logger.Debug("opened database", "path", db.Path(database.BaseDir()))
	return database, nil
}

// projectPath returns the --project flag or the project of the working dir
func projectPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("project"); p != "" {
		return workdir.NormalizePath(p)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return workdir.ResolveProjectPath(cwd)
}

func agentFingerprint() session.AgentFingerprint {
	return session.GetAgentFingerprint()
}

// actor is the name recorded on mutations: --actor, then config, then the
// detected agent id
func actor(cmd *cobra.Command) string {
	if a, _ := cmd.Flags().GetString("actor"); a != "" {
		return a
	}
	if cfg != nil && cfg.Actor != "" {
		return cfg.Actor
	}
	return agentFingerprint().String()
}

func jsonOutput(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}

// currentSession resolves --session or the agent's current session
func currentSession(cmd *cobra.Command, database *db.DB) (*models.Session, error) {
	if f := cmd.Flags().Lookup("session"); f != nil && f.Value.String() != "" {
		return database.GetSession(f.Value.String())
	}
	return session.Resolve(database, agentFingerprint().String(), projectPath(cmd))
}

// fail reports err in the requested format and returns it so RunE exits
// non-zero
func fail(cmd *cobra.Command, err error) error {
	if jsonOutput(cmd) {
		_ = output.JSONError(db.KindName(err), err)
	} else {
		output.Error("%v", err)
	}
	return err
}

// emit prints v as JSON when --json is set, else calls text
func emit(cmd *cobra.Command, v any, text func()) error {
	if jsonOutput(cmd) {
		return output.JSON(v)
	}
	text()
	return nil
}

// splitList flattens comma separated flag values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// optionalInt returns a pointer to the flag value when it was set
func optionalInt(flags *pflag.FlagSet, name string) *int {
	if !flags.Changed(name) {
		return nil
	}
	v, _ := flags.GetInt(name)
	return &v
}

// optionalString returns a pointer to the flag value when it was set
func optionalString(flags *pflag.FlagSet, name string) *string {
	if !flags.Changed(name) {
		return nil
	}
	v, _ := flags.GetString(name)
	return &v
}

func withDB(cmd *cobra.Command, fn func(database *db.DB) error) error {
	database, err := openDB(cmd)
	if err != nil {
		return fail(cmd, err)
	}
	defer database.Close()
	if err := fn(database); err != nil {
		return fail(cmd, err)
	}
	return nil
}
