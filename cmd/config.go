package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sowing/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect sowing configuration",
	Long: `Inspect the resolved sowing configuration.

Examples:
  sowing config show                 # Show configuration as YAML
  sowing config show --format json   # Show configuration as JSON`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after loading .sowing.yml, applying SOWING_*
environment overrides and command-line flags, and filling in defaults.`,
	RunE: runConfigShow,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}
