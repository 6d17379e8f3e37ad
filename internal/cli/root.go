// Package cli implements the murelay command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/murelay/internal/config"
	"github.com/roach88/murelay/internal/ir"
)

// RootOptions holds global flags for all commands.
//
// Empty string flags leave the environment configuration alone.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "json" | "text"
	EnvFile   string

	Cache     string
	Sequencer string
	Nodes     string
	KeyFile   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the murelay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "murelay",
		Version: ir.RelayVersion,
		Short:   "murelay - message relay",
		Long: `A message relay that sequences interactions, executes them on
compute nodes and cranks the resulting outbox cascades to completion.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.LogFormat != "" && !isValidFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.LogFormat, "log-format", "", "log format (json|text)")
	pf.StringVar(&opts.EnvFile, "env-file", "", "load environment from this file instead of .env")
	pf.StringVar(&opts.Cache, "cache", "", "SQLite path or redis:// URL (MURELAY_CACHE)")
	pf.StringVar(&opts.Sequencer, "sequencer", "", `sequencer base URL or "local" (MURELAY_SEQUENCER_URL)`)
	pf.StringVar(&opts.Nodes, "nodes", "", "YAML node table (MURELAY_NODES_FILE)")
	pf.StringVar(&opts.KeyFile, "key", "", "signing key file (MURELAY_KEY_FILE)")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = []string{opts.EnvFile}
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.CacheName, opts.Cache)
	override(&cfg.SequencerURL, opts.Sequencer)
	override(&cfg.NodesFile, opts.Nodes)
	override(&cfg.KeyFile, opts.KeyFile)
	override(&cfg.LogFormat, opts.LogFormat)
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger.
func setupLogging(w io.Writer, level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}
