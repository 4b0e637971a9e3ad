package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by client commands.
type GlobalFlags struct {
	APIUrl string
}

func buildRoot() *cobra.Command {
	globals := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "paradrop",
		Short:         "Edge agent for chute and host configuration management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globals.APIUrl, "api-url", "http://127.0.0.1:8180/api", "base URL of a running agent's local API")

	root.AddCommand(
		createServeCommand(),
		createChuteCommand(globals),
		createHostConfigCommand(globals),
		createStatusCommand(globals),
		createPollCommand(globals),
	)
	return root
}
