package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "Temporally-aware knowledge-graph memory engine",
	Long:  "Reverie stores memories as graph nodes, discovers relationships between them in the background, and synthesizes summaries from dense clusters. Single Go binary.",
}

var configPath string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(overviewCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(dreamCmd)
	rootCmd.AddCommand(statsCmd)
}
