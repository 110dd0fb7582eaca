package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openzap/openzap/pkg/config"
)

func newSeedCommand(opts *globalOptions) *cobra.Command {
	var catalogFile string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load connections, definitions and zaps from a catalog file",
		Long: `Validate a catalog document and upsert its contents into the store.

The catalog may be YAML, JSON or CUE. Connections and trigger/action
definitions are written before zaps and their steps. Re-seeding the same
file is idempotent.`,
		Example: `  # Seed from YAML
  zapd seed -f catalog.yaml

  # Seed from CUE
  zapd seed -f catalog.cue --config zapd.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			cat, err := config.LoadCatalog(catalogFile)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg.Store, true)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := cat.Seed(ctx, store)
			if err != nil {
				return fmt.Errorf("failed to seed catalog: %w", err)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Seeded %s\n", catalogFile)
			fmt.Fprintf(out, "  connections: %d\n", stats.Connections)
			fmt.Fprintf(out, "  triggers:    %d\n", stats.Triggers)
			fmt.Fprintf(out, "  actions:     %d\n", stats.Actions)
			fmt.Fprintf(out, "  zaps:        %d (%d steps)\n", stats.Zaps, stats.Steps)
			return nil
		},
	}

	cmd.Flags().StringVarP(&catalogFile, "file", "f", "", "catalog file (yaml, json or cue)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
