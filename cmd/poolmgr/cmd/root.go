package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	baseURL    string
	apiKey     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "poolmgr",
	Short: "poolmgr - Manage an elastic pool of compute units",
	Long: `poolmgr provisions and manages a pool of EC2 instances or Slurm jobs on
behalf of a workload dispatcher.

Without --url, commands act on the pool directly using the POOLMGR_* environment
configuration and its saved state. With --url, they call a running "poolmgr serve".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", os.Getenv("POOLMGR_API_URL"), "poolmgr API base URL (empty acts on the pool directly)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("POOLMGR_API_KEY"), "poolmgr API key")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
}
