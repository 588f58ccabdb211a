package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultSentinelURL = "http://localhost:3001"

var (
	sentinelURL string
	cfgFile     string
	noColor     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "edgectl",
	Short: "EdgeSentinel command-line client",
	Long: `edgectl talks to a running sentinel and strike service, or runs the
detection pipeline in-process with --local.

  edgectl inspect --path "/api/v1/users" --query "id=1' OR '1'='1"
  edgectl analyze --category xss --confidence 0.85 --evidence "XSS: script tag"
  edgectl attack sql-injection --count 3
  edgectl detections --limit 20`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.edgesentinel")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if sentinelURL == "" {
			sentinelURL = viper.GetString("sentinel_url")
		}
		if sentinelURL == "" {
			sentinelURL = defaultSentinelURL
		}
		if strikeURL == "" {
			strikeURL = viper.GetString("strike_url")
		}
		if strikeURL == "" {
			strikeURL = defaultStrikeURL
		}
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.edgesentinel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sentinelURL, "sentinel", "", "Sentinel base URL (default "+defaultSentinelURL+")")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(attackCmd)
	rootCmd.AddCommand(detectionsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the edgectl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "edgectl %s (EdgeSentinel)\n", version)
	},
}
