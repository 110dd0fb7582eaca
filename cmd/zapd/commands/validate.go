package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openzap/openzap/pkg/config"
	"github.com/openzap/openzap/pkg/integrations"
	"github.com/openzap/openzap/pkg/registry"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var catalogFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config and optionally a catalog file",
		Long: `Validate the daemon configuration against its schema and field rules.

With --file, also validate a catalog document and check that every trigger
and action class it defines has a registered handler. Nothing is written.`,
		Example: `  # Validate the config
  zapd validate --config zapd.yaml

  # Validate config and catalog
  zapd validate --config zapd.yaml -f catalog.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ configuration is valid")

			if catalogFile == "" {
				return nil
			}

			cat, err := config.LoadCatalog(catalogFile)
			if err != nil {
				return err
			}

			reg, err := integrations.NewRegistry(cfg.IntegrationOptions())
			if err != nil {
				return err
			}
			var classes []registry.Class
			for _, def := range cat.Triggers {
				classes = append(classes, registry.Class{Name: def.ClassName, Kind: registry.KindTrigger})
			}
			for _, def := range cat.Actions {
				classes = append(classes, registry.Class{Name: def.ClassName, Kind: registry.KindAction})
			}
			if missing := reg.Verify(classes); len(missing) > 0 {
				for _, c := range missing {
					fmt.Fprintf(out, "✗ %s class %s has no handler\n", c.Kind, c.Name)
				}
				return fmt.Errorf("catalog %s references %d unknown classes", catalogFile, len(missing))
			}

			fmt.Fprintf(out, "✓ catalog %s is valid (%d zaps)\n", catalogFile, len(cat.Zaps))
			return nil
		},
	}

	cmd.Flags().StringVarP(&catalogFile, "file", "f", "", "catalog file to validate")

	return cmd
}
