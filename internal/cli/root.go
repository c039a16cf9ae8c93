// Package cli implements the loyaltyd command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/loyalty_layer/internal/config"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	LogLevel   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the loyaltyd root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "loyaltyd",
		Short:   "Loyalty points ledger service",
		Long:    "loyaltyd serves the loyalty points API and runs ledger maintenance such as migrations, audits and point expiry.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML file overlaid on the environment configuration")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewExpireCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads the process configuration and applies the --config file.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	if o.ConfigFile != "" {
		if err := cfg.MergeFile(o.ConfigFile); err != nil {
			return nil, WrapExitError(ExitCommandError, "load configuration", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return cfg, nil
}

// logger builds the process logger. One-shot commands keep stdout for their
// result, so logs meant for stdout go to stderr instead.
func (o *RootOptions) logger(cfg *config.Config, cmd *cobra.Command, oneShot bool) (*logging.Logger, error) {
	var out io.Writer
	output := strings.ToLower(strings.TrimSpace(cfg.Logging.Output))
	if oneShot && (output == "" || output == "stdout") {
		out = cmd.ErrOrStderr()
	} else {
		w, err := logging.OpenOutput(cfg.Logging.Output)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open log output", err)
		}
		out = w
	}
	if out == nil {
		out = os.Stderr
	}
	return logging.NewWithOutput("loyaltyd", cfg.Logging.Level, cfg.Logging.Format, out), nil
}
