package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sowing/internal/logging"
	"github.com/conneroisu/sowing/internal/tui"
)

var editCmd = &cobra.Command{
	Use:     "edit <silo>/<page>",
	Aliases: []string{"e"},
	Short:   "Edit a wiki page in the terminal",
	Long: `Open a page of a running wiki in a terminal editor. The rendered preview
is kept next to the text while you type.

Keys:
  ctrl+s  save with a comment     ctrl+o  attach a file at the cursor
  ctrl+r  refresh the preview     ctrl+c  quit without saving

Logs go to log.file (default .sowing/editor.log) because the terminal
belongs to the editor.

Examples:
  sowing edit main/home
  sowing edit main/projects/garden --base-url http://wiki.lan:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().Duration("debounce", 0, "Quiet period before a preview is requested (default 250ms)")
	viper.BindPFlag("editor.debounce", editCmd.Flags().Lookup("debounce"))
}

func runEdit(cmd *cobra.Command, args []string) error {
	ref, err := parsePageArg(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, err := logging.NewFileLogger(&logging.Config{Level: level, Format: cfg.Log.Format}, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logger.Close()

	client, err := wikiClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	result, err := tui.Run(cmd.Context(), tui.Options{
		PageURL:  ref.EditURL(cfg.Editor.BaseURL),
		BaseURL:  cfg.Editor.BaseURL,
		Client:   client,
		Debounce: cfg.Editor.Debounce,
		Logger:   logger.With("page", ref.String()),
	})
	if err != nil {
		return err
	}

	if result.Committed {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s: %s\n", ref, result.Target)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Quit without saving.")
	}
	return nil
}
