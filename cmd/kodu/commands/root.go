// Package commands provides the CLI commands for kodu.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "kodu",
	Short: "kodu - agentic coding task runner",
	Long: `kodu runs coding tasks against a streaming model endpoint, with
persistent conversation state, tool approval gating, and file
version tracking.

Run 'kodu run "task"' for a one-shot task, or 'kodu serve' to start
the HTTP/SSE bridge a UI can attach to.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of .env")

	rootCmd.SetVersionTemplate(fmt.Sprintf("kodu %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvFile loads .env (or --env-file) before config resolution so
// {env:VAR} interpolation and env overrides see its values.
func loadEnvFile() error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load()
	}
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
