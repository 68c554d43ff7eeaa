package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/config"
	"github.com/roach88/atlas/internal/engine"
	"github.com/roach88/atlas/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Home    string
	Config  string

	// Set holds key=value config overrides, e.g. validation.mode=lenient.
	Set []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the atlas CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "atlas",
		Short: "Atlas - an epistemic ledger of observed artifacts",
		Long: `Atlas records what was observed about artifacts as an append-only ledger
of facts and derives current beliefs, confidence and conflicts by replaying it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Home, "home", "", "atlas home directory (default $ATLAS_HOME or .atlas)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default $ATLAS_CONFIG or <home>/config.yaml)")
	cmd.PersistentFlags().StringArrayVar(&opts.Set, "set", nil, "override a config key, e.g. --set validation.mode=lenient")

	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewReadCommand(opts))
	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRebuildCommand(opts))
	cmd.AddCommand(NewDecayCommand(opts))
	cmd.AddCommand(NewSalienceCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewIndexCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// LoadConfig resolves the effective configuration. Precedence is --set,
// then --home, then ATLAS_* variables, then the config file, then defaults.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]any{}
	home := o.Home
	if home == "" {
		home = env.Home
	}
	if home != "" {
		overrides["home"] = home
	}
	for _, kv := range o.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return config.Config{}, fmt.Errorf("--set %q: expected key=value", kv)
		}
		overrides[k] = v
	}

	if home == "" {
		home = config.Default().Home
	}
	path, required := env.ConfigFile(o.Config, home)
	if path != "" && !required && !fileExists(path) {
		path = ""
	}
	return config.Load(path, overrides)
}

// Logger builds the process logger. Logs go to w, never to stdout, so
// JSON output stays parseable.
func (o *RootOptions) Logger(cfg config.Config, w io.Writer) (*zap.Logger, error) {
	lo := logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	}
	if o.Verbose {
		lo.Level = "debug"
	}
	return logging.New(w, lo)
}

// session is an open engine with the configuration and logger it was
// opened with.
type session struct {
	cfg    config.Config
	engine *engine.Engine
	logger *zap.Logger
	out    *OutputFormatter
}

func (s *session) Close() {
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("close engine", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// open loads config and opens the engine. Failures are command errors.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := o.Logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	e, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	out := o.formatter(cmd)
	if r := e.LedgerRecovery(); r.Truncated() {
		out.VerboseLog("ledger tail truncated: %d bytes (%s)", r.TruncatedBytes, r.Reason)
	}
	if r := e.Recovery(); r.Degraded {
		out.VerboseLog("snapshot not used: %s", r.Reason)
	}
	return &session{cfg: cfg, engine: e, logger: logger, out: out}, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
