package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scamqc",
	Short: "scamqc - quality control for page segmentation of scanned images",
	Long: "scamqc reviews and corrects the page regions detected on a folder of scans, " +
		"re-runs the detector in bulk and publishes the corrected scam.json.",
	SilenceUsage: true,
	// no sub-command starts the server
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDraftsCmd())
	rootCmd.AddCommand(newCacheCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
