package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
)

// ConfigCmd groups configuration helpers
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect qaflow configuration",
	Long: `Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (QAFLOW_<SECTION>_<KEY>, plus OPENROUTER_API_KEY, DATABASE_URL, NATS_URL)
3. .env in the working directory
4. Project config (./qaflow.toml)
5. User config (~/.qaflow/qaflow.toml)
6. Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a qaflow.toml with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with secrets redacted",
	RunE:  runConfigShow,
}

var (
	configForce  bool
	configFormat string
)

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml or json")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "qaflow.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteConfig(path, am.DefaultConfig(), configForce); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return err
	}
	redacted := cfg.Redacted()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))
	case "toml":
		data, err := redacted.Encode()
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# qaflow configuration\n%s", data)
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json)", configFormat)
	}
	return nil
}
