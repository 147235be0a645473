// Command topologyctl is a CLI client for a running topologyd admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "topologyctl",
		Short: "Manage a running topologyd server",
	}

	rootCmd.PersistentFlags().String("addr", "http://localhost:4564", "topologyd admin API address")
	rootCmd.PersistentFlags().String("token", "", "authentication token (or TOPOLOGYD_TOKEN env)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	rootCmd.AddCommand(
		newLocationCmd(),
		newOccupancyCmd(),
		newAuthCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run:   func(cmd *cobra.Command, args []string) { fmt.Println(version) },
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// clientFromCmd builds a client from the persistent --addr/--token flags,
// falling back to the TOPOLOGYD_TOKEN environment variable.
func clientFromCmd(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("TOPOLOGYD_TOKEN")
	}
	return newClient(addr, token)
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
