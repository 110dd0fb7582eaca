package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep and exit",
		Long: `Check every active zap once, run those whose trigger fires, and wait for
the runs to finish. Readiness rules apply exactly as in the daemon.`,
		Example: `  # Sweep once, e.g. from cron
  zapd sweep --config zapd.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			scheduler, err := a.newScheduler(ctx)
			if err != nil {
				return err
			}

			stats := scheduler.Sweep(ctx)
			scheduler.Wait()

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swept %d active zaps: %d dispatched, %d busy (%s)\n",
				stats.Active, stats.Dispatched, stats.SkippedBusy, stats.Duration)
			return nil
		},
	}

	return cmd
}
