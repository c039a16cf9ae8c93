package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/loyalty_layer/internal/app"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <customerId>",
		Short: "Replay a customer's ledger and compare it with the stored balance",
		Long: `Replay every ledger entry of a customer in order and check that each
balance snapshot follows from the previous one and that the final balance
matches the customer record.

Exit codes:
  0 - the ledger is consistent
  1 - the ledger is inconsistent
  2 - command error (customer not found, database unreachable, etc.)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			report, err := a.Ledger.AuditCustomer(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "audit customer", err)
			}

			p := newPrinter(rootOpts.Format, cmd.OutOrStdout())
			if p.json() {
				if err := p.encode(report); err != nil {
					return err
				}
			} else if report.Consistent {
				p.success(fmt.Sprintf("customer %s: %d entries, balance %d", args[0], report.Entries, report.StoredBalance))
			} else {
				p.failure(fmt.Sprintf("customer %s: stored balance %d, ledger sums to %d, last snapshot %d",
					args[0], report.StoredBalance, report.SummedPoints, report.LastSnapshot))
				if b := report.FirstBrokenEntry; b != nil {
					p.failure(fmt.Sprintf("first broken entry %s (sequence %d): expected balance %d, recorded %d",
						b.TransactionID, b.Sequence, b.Expected, b.Recorded))
				}
			}
			if !report.Consistent {
				return NewExitError(ExitFailure, "ledger is inconsistent")
			}
			return nil
		},
	}
}
