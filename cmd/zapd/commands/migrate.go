package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply all pending schema migrations to the configured store (SQLite or
Postgres). Running it on an up-to-date store is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg.Store, true)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s store is up to date\n", driverName(cfg.Store.Driver))
			return nil
		},
	}

	return cmd
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}
