// Package cli provides the command-line interface for marketpan.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// EnvConfigDir overrides the default config directory.
const EnvConfigDir = "MARKETPAN_CONFIG_DIR"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "marketpan",
	Short: "Market-moving alerts from X, Finnhub and RSS to Telegram",
	Long: "marketpan polls X/Twitter accounts, Finnhub news categories and RSS feeds, " +
		"classifies each new item for market relevance, and forwards the relevant ones " +
		"to a Telegram chat as formatted alerts.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "marketpan %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(),
		"config directory (env "+EnvConfigDir+")")
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marketpan"
	}
	return filepath.Join(home, ".marketpan")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
