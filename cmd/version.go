package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sowing/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for sowing: version, git commit, build time,
Go version and platform.

Examples:
  sowing version                 # Show version
  sowing version --short         # Show the version string only
  sowing version --format json   # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch versionFormat {
	case "json":
		return outputVersionJSON(out)
	case "text":
		if versionShort {
			fmt.Fprintln(out, version.GetShortVersion())
			return nil
		}
		fmt.Fprintln(out, version.GetDetailedVersion())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func outputVersionJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(version.GetBuildInfo())
}
