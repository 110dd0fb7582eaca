package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Long: `Run the zap scheduler as a long-lived daemon.

On startup this command:
  - Migrates the store
  - Marks executions left running by a previous process as failed
  - Warns about catalog classes with no registered handler
  - Starts the metrics endpoint and the policy gate when configured

It then sweeps active zaps every interval until SIGINT or SIGTERM. SIGHUP
requests an immediate sweep.`,
		Example: `  # Run with defaults (SQLite openzap.db)
  zapd run

  # Run with a config file
  zapd run --config /etc/openzap/zapd.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			logger := a.tel.Logger.NewComponentLogger("zapd")

			failed, err := a.store.FailStaleExecutions(ctx, "interrupted by restart")
			if err != nil {
				return err
			}
			if failed > 0 {
				logger.Warnf("marked %d interrupted executions as failed", failed)
			}

			missing, err := a.verifyCatalog(ctx)
			if err != nil {
				return err
			}
			for _, c := range missing {
				logger.WithField("class", c.Name).WithField("kind", string(c.Kind)).
					Warn("catalog references a class with no registered handler")
			}

			if err := a.tel.Metrics.StartMetricsServer(ctx, logger); err != nil {
				return err
			}

			scheduler, err := a.newScheduler(ctx)
			if err != nil {
				return err
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						logger.Info("SIGHUP received, sweeping now")
						scheduler.Wake()
					}
				}
			}()

			return scheduler.Run(ctx)
		},
	}

	return cmd
}
