package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "clockmesh",
		Short:         "Lamport logical clock mesh testbed",
		Long: `clockmesh runs a mesh of simulated nodes that advance Lamport
logical clocks at randomized tick rates while exchanging timestamped
messages over TCP, and analyzes the telemetry they leave behind.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newAnalyzeCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
