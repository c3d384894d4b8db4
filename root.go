package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/exact-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a valid config,
// because they create or repair it.
const skipConfigAnnotation = "skipConfig"

// Output formats for --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDivision   int
	flagOutput     string
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the parsed view of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	Output     string
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs from the root pre-run.
// Holder is nil for commands annotated with skipConfigAnnotation.
type CLIContext struct {
	Flags  CLIFlags
	Holder *config.Holder
	Logger *slog.Logger
	Env    config.EnvOverrides
	CLI    config.CLIOverrides
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("cli context not initialized")
	}

	return cc
}

// Config returns the current configuration snapshot.
func (cc *CLIContext) Config() *config.Config {
	return cc.Holder.Config()
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exact-go",
		Short:   "Exact Online API client",
		Long:    "Query, edit and mirror Exact Online entities from the command line.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().IntVar(&flagDivision, "division", 0, "division code (overrides config)")
	cmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", outputTable, "output format: table, json or yaml")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newTypesCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newFindByCmd())
	cmd.AddCommand(newSaveCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newMirrorCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupContext resolves the four-layer configuration, builds the logger and
// stores both in the command's context.
func setupContext(cmd *cobra.Command) error {
	switch flagOutput {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid --output %q (want table, json or yaml)", flagOutput)
	}

	cc := &CLIContext{
		Flags: CLIFlags{
			ConfigPath: flagConfigPath,
			Output:     flagOutput,
			Verbose:    flagVerbose,
			Quiet:      flagQuiet,
		},
		Env: config.ReadEnvOverrides(),
		CLI: cliOverrides(cmd),
	}

	if cmd.Annotations[skipConfigAnnotation] == "" {
		holder, err := config.ResolveHolder(cc.Env, cc.CLI)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cc.Holder = holder
	}

	cc.Logger = buildLogger(cc.Holder, os.Stderr)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// cliOverrides collects the flags that take part in config resolution. Only
// flags the user actually set override lower layers.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("division") {
		division := flagDivision
		cli.Division = &division
	}

	var level string

	switch {
	case flagVerbose:
		level = "debug"
	case flagQuiet:
		level = "error"
	}

	if level != "" {
		cli.LogLevel = &level
	}

	return cli
}

// buildLogger creates the process logger. The level comes from the resolved
// config (which already folds in --verbose and --quiet). With log_format
// "auto", a terminal gets text and anything else gets JSON.
func buildLogger(holder *config.Holder, w *os.File) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if holder != nil {
		cfg := holder.Config()
		format = cfg.Logging.LogFormat

		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// Commands without config still honor the flags.
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}
