package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Operator console for the payment reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", envOr("RECONCILE_SERVER", "http://localhost:8080"), "service base URL")
	root.PersistentFlags().String("token", os.Getenv("RECONCILE_TOKEN"), "operator token (X-Operator-Token)")

	root.AddCommand(parseCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(openCmd())
	root.AddCommand(confirmCmd())
	root.AddCommand(rejectCmd())

	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// clientFrom builds an API client from the persistent flags.
func clientFrom(cmd *cobra.Command) (*client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return nil, fmt.Errorf("operator token required (--token or RECONCILE_TOKEN)")
	}
	return newClient(server, token), nil
}
