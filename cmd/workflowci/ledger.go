package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"workflowci/internal/ledger"
)

func newLedgerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or verify the signed run history",
	}

	var runID string
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "List ledger blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			blocks := l.Blocks()
			if runID != "" {
				blocks = l.RunBlocks(runID)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tTIME\tRUN\tJOB\tSTEP\tSTATE\tHASH")
			for _, b := range blocks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", b.Index, b.Timestamp, b.RunID, b.Job, b.Step, b.State, short(b.Hash))
			}
			return tw.Flush()
		},
	}
	inspect.Flags().StringVar(&runID, "run", "", "only blocks of this run")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check hashes, links and signatures of every block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			if err := l.VerifyChain(); err != nil {
				return fmt.Errorf("ledger verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger verification ok (%d blocks)\n", l.Len())
			return nil
		},
	}

	cmd.AddCommand(inspect, verify)
	return cmd
}

// openLedger opens the ledger read-only, pinning verification to the runner
// key when one exists.
func (a *app) openLedger() (*ledger.Ledger, error) {
	keys, err := ledger.LoadKeyPair(a.cfg.Storage.KeysDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("runner keys: %w", err)
	}
	if _, err := os.Stat(a.cfg.Storage.LedgerPath); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return ledger.OpenLedger(a.cfg.Storage.LedgerPath, keys)
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
