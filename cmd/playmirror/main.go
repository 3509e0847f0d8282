package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	serve := newServeCommand()

	rootCmd := &cobra.Command{
		Use:   "playmirror",
		Short: "Mirror a guest display and inject remote input",
		Long: `playmirror receives frames from a guest compositor over a local control
socket, keeps the latest one for inspection, and turns remote viewer
gestures into Linux input events on the guest's input pipes.

Run without a subcommand to serve.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		RunE:          serve.RunE,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
	}
	rootCmd.Flags().AddFlagSet(serve.Flags())

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newProduceCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "playmirror %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
