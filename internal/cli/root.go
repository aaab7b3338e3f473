// Package cli implements queryctl, the operator command line for
// QueryGuard. It talks to the store directly (SQLite locally, Postgres in
// shared environments) and can run a one-shot escalation sweep.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"queryguard/internal/app"
	"queryguard/internal/config"
	"queryguard/internal/db"
	"queryguard/internal/escalation"
	"queryguard/internal/types"
)

// Options lets tests replace the process-level dependencies.
type Options struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// LoadConfig defaults to config.Load with the SSM provider.
	LoadConfig func(opts config.Options) (*config.Config, error)
	// OpenStore defaults to db.Open.
	OpenStore func(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error)
	// BuildSweeper defaults to app.BuildSweeper.
	BuildSweeper func(ctx context.Context, cfg *config.Config, store escalation.QueryStore, logger *slog.Logger, deps app.SweepDeps) (*escalation.Sweeper, error)
	// ParamStoreAPI defaults to an SSM client from AWS_REGION.
	ParamStoreAPI func(ctx context.Context) (config.ParamStoreAPI, error)
	Clock         types.Clock
	Version       string
}

type globalFlags struct {
	envFiles   []string
	backend    string
	sqlitePath string
	jsonOut    bool
	logLevel   string
}

// runtime is what a command receives after setup.
type runtime struct {
	cfg    *config.Config
	store  db.Store
	logger *slog.Logger
	out    io.Writer
	clock  types.Clock
	json   bool
}

type cli struct {
	opts  Options
	flags globalFlags
}

// NewRootCmd builds the queryctl command tree.
func NewRootCmd(opts Options) *cobra.Command {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = func(o config.Options) (*config.Config, error) {
			return config.Load(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")), o)
		}
	}
	if opts.OpenStore == nil {
		opts.OpenStore = db.Open
	}
	if opts.BuildSweeper == nil {
		opts.BuildSweeper = app.BuildSweeper
	}
	if opts.ParamStoreAPI == nil {
		opts.ParamStoreAPI = defaultParamStoreAPI
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:           "queryctl",
		Short:         "Operate the QueryGuard escalation engine",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `queryctl submits and inspects customer queries, records responses,
and runs escalation sweeps against the configured store.

Examples:
  queryctl submit --name "Ada" --email ada@example.com --message "Refund?"
  queryctl list --status PENDING,ESCALATED_LEVEL2
  queryctl respond 3f1c... --tier manager
  queryctl sweep --dry-run`,
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	pf := root.PersistentFlags()
	pf.StringSliceVar(&c.flags.envFiles, "env-file", []string{".env"}, "dotenv files to load before the environment")
	pf.StringVar(&c.flags.backend, "store", "", "store backend override (sqlite|postgres)")
	pf.StringVar(&c.flags.sqlitePath, "sqlite-path", "", "SQLite database path override")
	pf.BoolVar(&c.flags.jsonOut, "json", false, "print JSON instead of tables")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	root.AddCommand(
		c.submitCmd(),
		c.showCmd(),
		c.listCmd(),
		c.respondCmd(),
		c.resolveCmd(),
		c.notesCmd(),
		c.sweepCmd(),
		c.migrateCmd(),
		c.secretsCmd(),
	)
	return root
}

// setup loads config and opens the store. Commands that never send
// notifications skip the provider credential checks.
func (c *cli) setup(ctx context.Context, needProviders bool) (*runtime, func(), error) {
	cfg, err := c.opts.LoadConfig(config.Options{
		DotenvFiles:       c.flags.envFiles,
		SkipBackendChecks: !needProviders,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if c.flags.backend != "" {
		cfg.Database.Backend = c.flags.backend
	}
	if c.flags.sqlitePath != "" {
		cfg.Database.SQLitePath = c.flags.sqlitePath
	}
	level := cfg.LogLevel
	if c.flags.logLevel != "" {
		level = c.flags.logLevel
	}

	store, err := c.opts.OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Database.Backend, err)
	}

	rt := &runtime{
		cfg:    cfg,
		store:  store,
		logger: app.NewLogger(c.opts.Err, level, false),
		out:    c.opts.Out,
		clock:  c.opts.Clock,
		json:   c.flags.jsonOut,
	}
	return rt, func() { _ = store.Close() }, nil
}

// withRuntime adapts a runtime-aware function to cobra's RunE.
func (c *cli) withRuntime(needProviders bool, fn func(cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, done, err := c.setup(cmd.Context(), needProviders)
		if err != nil {
			return err
		}
		defer done()
		return fn(cmd, rt, args)
	}
}

// Execute runs queryctl and returns the process exit code.
func Execute(ctx context.Context, opts Options, args []string) int {
	root := NewRootCmd(opts)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), errorLine(err))
		return 1
	}
	return 0
}
