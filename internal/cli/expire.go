package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/loyalty_layer/internal/app"
)

// NewExpireCommand creates the expire command, which runs one expiry sweep.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire the balances of inactive customers once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid --at %q: must be RFC3339", at))
				}
				now = t.UTC()
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			log, err := rootOpts.logger(cfg, cmd, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.Open(ctx, cfg, log)
			if err != nil {
				return WrapExitError(ExitCommandError, "initialise application", err)
			}
			defer a.Close()

			result, err := a.Sweeper.Sweep(ctx, now)
			if err != nil {
				return WrapExitError(ExitCommandError, "expiry sweep", err)
			}

			p := newPrinter(rootOpts.Format, cmd.OutOrStdout())
			switch {
			case p.json():
				if err := p.encode(result); err != nil {
					return err
				}
			case result.Skipped:
				p.warning("point expiry is disabled in the loyalty settings")
			default:
				p.success(fmt.Sprintf("expired %d points from %d of %d inactive customers", result.Points, result.Expired, result.Candidates))
			}
			if result.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d customers could not be expired", result.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate inactivity as of this RFC3339 time instead of now")
	return cmd
}
