package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/drive"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the snapshot of global flags a command runs with.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries everything a subcommand needs: the resolved config,
// a logger built from it, and the global flags. PersistentPreRunE stores it
// in the command's context.
type CLIContext struct {
	Cfg    *config.Resolved
	Logger *slog.Logger
	Flags  CLIFlags
	Level  *slog.LevelVar // adjustable at runtime by config reloads
	Out    io.Writer      // command output
	Status io.Writer      // progress messages, silenced by --quiet

	overrides config.CLIOverrides
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("gdrive-go: command run without CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gdrive-go",
		Short:   "Google Drive CLI client",
		Long:    "A path-oriented Google Drive client with a change-feed follower.",
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and suppress status output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newChangesCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger every subcommand uses.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	switch {
	case flagVerbose:
		level := "debug"
		cli.LogLevel = &level
	case flagQuiet:
		level := "error"
		cli.LogLevel = &level
	}

	// Only commands that define --metrics-addr can override it.
	if f := cmd.Flags().Lookup(flagMetricsAddr); f != nil && f.Changed {
		addr := f.Value.String()
		cli.MetricsAddr = &addr
	}

	// Config loading logs at debug before the real logger exists.
	bootstrap := newLogger(slog.LevelWarn, "text", os.Stderr, false)
	if flagVerbose {
		bootstrap = newLogger(slog.LevelDebug, "text", os.Stderr, false)
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(resolved.Logging.LogLevel))

	return &CLIContext{
		Cfg:       resolved,
		Logger:    buildLogger(level, &resolved.Logging),
		Level:     level,
		Flags:     CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet},
		Out:       cmd.OutOrStdout(),
		Status:    cmd.ErrOrStderr(),
		overrides: cli,
	}, nil
}

// reloadConfig re-resolves the configuration with the overrides this
// command started with. Only the log level is applied in place; callers
// pick up the rest from the returned config.
func (cc *CLIContext) reloadConfig() (*config.Resolved, error) {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), cc.overrides, cc.Logger)
	if err != nil {
		return nil, err
	}

	if cc.Level != nil {
		cc.Level.Set(parseLevel(resolved.Logging.LogLevel))
	}

	return resolved, nil
}

// buildLogger creates the stderr logger from the resolved logging config.
// --verbose and --quiet already reached it through the override chain.
func buildLogger(level slog.Leveler, cfg *config.LoggingConfig) *slog.Logger {
	tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	return newLogger(level, cfg.LogFormat, os.Stderr, tty)
}

// newLogger picks the handler for format. "auto" means text on a terminal
// and JSON otherwise, so piped output stays machine-readable.
func newLogger(level slog.Leveler, format string, w io.Writer, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// errorHint adds a next step to errors the user can act on.
func errorHint(err error) string {
	switch {
	case errors.Is(err, drive.ErrNotLoggedIn), errors.Is(err, drive.ErrUnauthorized):
		return "run 'gdrive-go login' to authenticate"
	case errors.Is(err, drive.ErrDisconnected):
		return "check your network connection and retry"
	case errors.Is(err, drive.ErrOutOfSpace):
		return "free up space in your Drive or upgrade your storage plan"
	default:
		return ""
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}

	os.Exit(1)
}
