package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openzap/openzap/pkg/engine"
	"github.com/openzap/openzap/pkg/stores"
)

// executionView pairs an execution with its step executions for output.
type executionView struct {
	*engine.Execution
	Steps []*engine.StepExecution `json:"steps,omitempty"`
}

func newExecutionsCommand(opts *globalOptions) *cobra.Command {
	var (
		zapID  string
		status string
		limit  int
		steps  bool
	)

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recorded executions",
		Long: `List zap executions, newest first. With --steps each execution is
followed by its step executions.`,
		Example: `  # Last 20 executions
  zapd executions

  # Failed runs of one zap, with step detail
  zapd executions --zap issue-to-slack --status failed --steps

  # Machine readable
  zapd executions --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store, false)
			if err != nil {
				return err
			}
			defer store.Close()

			execs, err := store.ListExecutions(ctx, stores.ExecutionFilter{
				ZapID:  zapID,
				Status: engine.ExecutionStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			views := make([]executionView, 0, len(execs))
			for _, e := range execs {
				view := executionView{Execution: e}
				if steps {
					view.Steps, err = store.ListStepExecutions(ctx, e.ID)
					if err != nil {
						return fmt.Errorf("failed to list steps of %s: %w", e.ID, err)
					}
				}
				views = append(views, view)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			return printExecutions(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&zapID, "zap", "", "only executions of this zap")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (in_progress, done, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum executions to list")
	cmd.Flags().BoolVar(&steps, "steps", false, "include step executions")

	return cmd
}

func printExecutions(out io.Writer, views []executionView) error {
	if len(views) == 0 {
		fmt.Fprintln(out, "No executions found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tZAP\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.ZapID, v.Status, v.StartedAt.Format(time.RFC3339),
			v.Duration.Round(time.Millisecond), deref(v.Error))
		for _, s := range v.Steps {
			fmt.Fprintf(w, "  └ %s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.StepID, s.Status, s.StartedAt.Format(time.RFC3339),
				s.Duration.Round(time.Millisecond), deref(s.Error))
		}
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
