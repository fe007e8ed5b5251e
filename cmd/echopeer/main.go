package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/danmuck/peerctl/internal/echopeer"
)

func main() {
	code := 0
	cmd := &cobra.Command{
		Use:          "echopeer",
		Short:        "Reference line-delimited JSON-RPC peer on stdin/stdout",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			mode, _ := cmd.Flags().GetString("mode")
			if mode == "" {
				mode = os.Getenv(echopeer.EnvMode)
			}
			code = echopeer.Main(mode)
		},
	}
	cmd.Flags().String("mode", "", "echo, silent, reject, garbage or exit")
	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
	os.Exit(code)
}
