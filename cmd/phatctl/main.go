// phatctl is the operator CLI for phatd: corpus preparation and
// maintenance locally, questions and exchange history through the
// daemon's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "phatctl",
	Short:         "Operator CLI for the phatd chat bot",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the daemon config file")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(shortenCmd)
	rootCmd.AddCommand(upsertCmd)
	rootCmd.AddCommand(countCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
