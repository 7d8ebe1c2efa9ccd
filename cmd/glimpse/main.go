package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/glimpse/internal/controlplane"
)

var rootCmd = &cobra.Command{
	Use:   "glimpse",
	Short: "glimpse - screen capture coordinator",
	Long: `glimpse captures the screen while hiding its own overlay, keeps a small queue
of recent captures per category and hands each one to the analysis pipeline.

Run "glimpse daemon" to start the coordinator, then use the other commands or
"glimpse tui" to drive it.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the glimpse version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("glimpse %s\n", controlplane.Version)
	},
}

var (
	apiAddr    string
	configFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7467", "API server address")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/glimpse/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(captureCmd, listCmd, showCmd, deleteCmd, clearCmd, cancelCmd, selectCmd)
	rootCmd.AddCommand(jobsCmd, auditCmd, stateCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
