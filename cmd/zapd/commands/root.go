package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
	version    string
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "zapd",
		Short: "openzap - zap execution engine",
		Long: `zapd runs zaps: chains of one trigger step followed by action steps.

On every sweep the scheduler checks each active zap's trigger. When it
fires, the trigger output is substituted into the action payloads and the
actions run in order. Every run is recorded as an execution with one step
execution per handler call.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (yaml or cue)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newSweepCommand(opts))
	rootCmd.AddCommand(newTriggerCommand(opts))
	rootCmd.AddCommand(newMigrateCommand(opts))
	rootCmd.AddCommand(newSeedCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newExecutionsCommand(opts))
	rootCmd.AddCommand(newIntegrationsCommand(opts))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
