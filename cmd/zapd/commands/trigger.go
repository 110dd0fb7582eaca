package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openzap/openzap/pkg/engine"
)

func newTriggerCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "trigger <zap-id>",
		Short: "Run one zap now",
		Long: `Run a single zap immediately. With --force (the default) the readiness
policy is bypassed, so polling intervals and schedules are ignored. The
trigger is still checked and the actions only run when it fires.`,
		Example: `  # Run a zap regardless of its polling interval
  zapd trigger issue-to-slack

  # Respect readiness
  zapd trigger issue-to-slack --force=false`,
		Args: cobra.ExactArgs(1),
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

			outcome, err := scheduler.RunZap(ctx, args[0], engine.ExecuteOptions{Force: force})
			if opts.jsonOutput {
				result := map[string]any{"zap_id": args[0], "outcome": outcome}
				if err != nil {
					result["error"] = err.Error()
				}
				if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
					return werr
				}
				return err
			}
			if err != nil {
				return fmt.Errorf("zap %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Zap %s: %s\n", args[0], outcome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", true, "bypass the readiness policy")

	return cmd
}
