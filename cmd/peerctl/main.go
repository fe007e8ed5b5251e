package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	logs "github.com/danmuck/peerctl/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "peerctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peerctl",
		Short:         "Drive line-delimited JSON-RPC peers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logs.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringP("config", "c", "peerctl.toml", "config file (.toml, .yaml or .yml)")

	root.AddCommand(newRunCmd(), newCallCmd(), newConfigCmd())
	return root
}
