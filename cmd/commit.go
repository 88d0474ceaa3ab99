package cmd

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sowing/internal/attach"
	"github.com/conneroisu/sowing/internal/preview"
	"github.com/conneroisu/sowing/internal/session"
)

var commitCmd = &cobra.Command{
	Use:     "commit <silo>/<page>",
	Aliases: []string{"c"},
	Short:   "Save content as a new revision of a page",
	Long: `Submit a page through its edit form without an interactive editor.

The new content comes from --file, or stays as it is on the wiki. Each
--attach uploads a file and appends its [[/uploads/...]] reference.

Examples:
  sowing commit main/home --file home.org -m "rewrite intro"
  sowing commit main/trip -m "photos" --attach beach.jpg --attach map.png`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

var (
	commitFile    string
	commitMessage string
	commitAttach  []string
)

func init() {
	rootCmd.AddCommand(commitCmd)

	commitCmd.Flags().StringVarP(&commitFile, "file", "f", "", "File holding the new page content")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Revision comment")
	commitCmd.Flags().StringArrayVarP(&commitAttach, "attach", "a", nil, "File to upload and reference (repeatable)")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ref, err := parsePageArg(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	client, err := wikiClient(ctx, cfg)
	if err != nil {
		return err
	}

	files := make([]attach.File, 0, len(commitAttach))
	for _, path := range commitAttach {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot attach %s: %w", path, err)
		}
		files = append(files, attach.LocalFile(path))
	}

	sess, buf, err := session.Open(ctx, ref.EditURL(cfg.Editor.BaseURL), preview.SurfaceFunc(func(string) {}), session.Options{
		BaseURL:  cfg.Editor.BaseURL,
		Client:   client,
		Debounce: cfg.Editor.Debounce,
		Logger:   logger.With("page", ref.String()),
		Picker:   attach.NewQueuePicker(files...),
		Alerter: attach.AlerterFunc(func(message string) {
			fmt.Fprintln(cmd.ErrOrStderr(), message)
		}),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if commitFile != "" {
		data, err := os.ReadFile(commitFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", commitFile, err)
		}
		buf.SetText(string(data))
	}

	for range files {
		text := buf.Text()
		end := utf8.RuneCountInString(text)
		if text != "" && !strings.HasSuffix(text, "\n") {
			buf.InsertAt(end, "\n")
			end++
		}
		buf.SetCaret(end)
		if err := sess.Attach(ctx); err != nil {
			return err
		}
	}

	target, err := sess.Commit(ctx, commitMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s: %s\n", ref, target)
	return nil
}
