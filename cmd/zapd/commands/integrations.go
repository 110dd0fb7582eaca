package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openzap/openzap/pkg/integrations"
)

func newIntegrationsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "List the trigger and action classes this binary provides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := integrations.NewRegistry(integrations.DefaultOptions())
			if err != nil {
				return err
			}
			classes := reg.Classes()

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), classes)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tCLASS")
			for _, c := range classes {
				fmt.Fprintf(w, "%s\t%s\n", c.Kind, c.Name)
			}
			return w.Flush()
		},
	}

	return cmd
}
