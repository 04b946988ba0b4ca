// Command nyconsensusd runs a single nyconsensus node, or acts as a thin
// client against a running cluster, with the domain logic kept entirely
// in internal/.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nyconsensusd",
		Short: "Replicated Raft node and fenced lock service",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newClientCmd())
	return root
}
