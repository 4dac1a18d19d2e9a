// Command eventstream runs the real-time analytics ingestion and fan-out
// service, or issues a standalone dev token, per the subcommands below.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "eventstream",
		Short:   "Real-time event ingestion and aggregate fan-out service",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(context.Background())
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newTokenCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
