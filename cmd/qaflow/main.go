package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/cmd/qaflow/commands"
	"github.com/teranos/qaflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "qaflow",
	Short: "qaflow - asynchronous question answering",
	Long: `qaflow accepts natural-language questions, runs them through a staged
reasoning pipeline in the background and lets callers poll for the answer.

Available commands:
  server  - Serve the HTTP API with in-process workers
  worker  - Run pipeline workers only (pulse or nats backend)
  ask     - Submit a question to a running server
  status  - Show the status of a submitted question
  mcp     - Serve submit/status as MCP tools over stdio
  config  - Create or inspect qaflow.toml
  db      - Migrate or sweep the job database

Examples:
  qaflow server -v
  qaflow ask "What was our Q3 revenue?" --wait
  qaflow status 3f1c9a0e-...`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Values from .env never override variables already set.
		_ = godotenv.Load()

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			am.SetConfigFile(path)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this file only")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.AskCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.MCPCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
