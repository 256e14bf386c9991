/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "healthnet",
	Short: "HealthNetAI network assistant and offline sync agent",
	Long: `HealthNet connects to the HealthNetAI monitoring backend.

Use "healthnet chat" to ask the network assistant about hospitals, clinics
and system metrics, and "healthnet offline" to run the agent that keeps the
application shell cached and delivers metric submissions captured offline.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
