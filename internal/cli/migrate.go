package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/loyalty_layer/internal/config"
	"github.com/R3E-Network/loyalty_layer/internal/storage/migrations"
)

// NewMigrateCommand creates the migrate command and its up, down and
// version subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the loyalty schema on the configured database.

Examples:
  loyaltyd migrate up
  loyaltyd migrate down 1
  loyaltyd migrate version --format json`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := schemaConfig(rootOpts)
			if err != nil {
				return err
			}
			log, err := rootOpts.logger(cfg, cmd, true)
			if err != nil {
				return err
			}
			if err := migrations.Up(cfg.Database.Driver, cfg.Database.DSN, log); err != nil {
				return WrapExitError(ExitCommandError, "migrate up", err)
			}
			return printVersion(rootOpts, cmd, cfg, "schema is up to date")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, all of them when steps is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid steps %q: must be a positive integer", args[0]))
				}
				steps = n
			}
			cfg, err := schemaConfig(rootOpts)
			if err != nil {
				return err
			}
			log, err := rootOpts.logger(cfg, cmd, true)
			if err != nil {
				return err
			}
			if err := migrations.Down(cfg.Database.Driver, cfg.Database.DSN, steps, log); err != nil {
				return WrapExitError(ExitCommandError, "migrate down", err)
			}
			return printVersion(rootOpts, cmd, cfg, "rolled back")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := schemaConfig(rootOpts)
			if err != nil {
				return err
			}
			return printVersion(rootOpts, cmd, cfg, "schema version")
		},
	})

	return cmd
}

// schemaVersion is the JSON output of the migrate commands.
type schemaVersion struct {
	Driver  string `json:"driver"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

func schemaConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return nil, NewExitError(ExitCommandError, "the memory driver has no schema to migrate")
	}
	return cfg, nil
}

func printVersion(opts *RootOptions, cmd *cobra.Command, cfg *config.Config, label string) error {
	v, dirty, err := migrations.Version(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "read schema version", err)
	}
	p := newPrinter(opts.Format, cmd.OutOrStdout())
	out := schemaVersion{Driver: cfg.Database.Driver, Version: v, Dirty: dirty}
	if p.json() {
		return p.encode(out)
	}
	msg := fmt.Sprintf("%s: %d", label, v)
	if dirty {
		p.warning(msg + " (dirty)")
		return nil
	}
	p.success(msg)
	return nil
}
