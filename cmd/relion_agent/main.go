// Package main provides the entry point for the relion_agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relion_agent",
	Short: "RELION external-job wrappers for third-party cryo-EM tools",
	Long: "relion_agent bridges RELION's external-job interface to third-party picking and " +
		"class-selection tools (topaz, crYOLO, cinderella), handling input staging, " +
		"incremental bookkeeping and output conversion. Run it from the RELION project directory.",
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
