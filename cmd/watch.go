package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sowing/internal/document"
	"github.com/conneroisu/sowing/internal/hostpage"
	"github.com/conneroisu/sowing/internal/livesurface"
	"github.com/conneroisu/sowing/internal/session"
	"github.com/conneroisu/sowing/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch <file>",
	Aliases: []string{"w"},
	Short:   "Preview a local file as a wiki page while you edit it",
	Long: `Watch a local file that you edit with any editor. Every save is rendered
by the wiki and pushed to a browser tab at editor.live_addr.

With --message the final content is saved as a new revision when you stop
watching (ctrl+c).

Examples:
  sowing watch notes.org --page main/notes
  sowing watch notes.org --page main/notes -m "evening notes"
  sowing watch README.md --page docs/readme --live-addr :9000`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchPage    pageRefValue
	watchMessage string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Var(&watchPage, "page", "Page the file is previewed as (required)")
	watchCmd.Flags().StringVarP(&watchMessage, "message", "m", "", "Save the file as a revision with this comment on exit")
	watchCmd.Flags().String("live-addr", "", "Address of the live preview page (default localhost:8090)")
	watchCmd.MarkFlagRequired("page")

	viper.BindPFlag("editor.live_addr", watchCmd.Flags().Lookup("live-addr"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ref := watchPage.ref
	logger = logger.With("page", ref.String())

	fw, err := watcher.NewFileWatcher(args[0], logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	snap, err := fw.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	client, err := wikiClient(ctx, cfg)
	if err != nil {
		return err
	}
	page, err := hostpage.Fetch(ctx, client, ref.EditURL(cfg.Editor.BaseURL))
	if err != nil {
		return err
	}

	hub := livesurface.New(logger)
	buf := document.NewBuffer(snap.Text)
	sess, err := session.New(page, buf, hub, session.Options{
		BaseURL:  cfg.Editor.BaseURL,
		Client:   client,
		Debounce: cfg.Editor.Debounce,
		Logger:   logger,
		Alerter:  hub,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	buf.OnChange(sess.Changed)

	fw.AddHandler(func(s watcher.Snapshot) error {
		buf.SetText(s.Text)
		return nil
	})

	listener, err := net.Listen("tcp", cfg.Editor.LiveAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Editor.LiveAddr, err)
	}
	live := &http.Server{
		Handler:           hub.Handler(ref.String(), cfg.Editor.BaseURL),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := live.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, err, "live preview server stopped")
		}
	}()

	sess.Start()
	if err := fw.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s; live preview at http://%s\n", fw.Path(), listener.Addr())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = fw.Stop()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, err, "live preview hub shutdown")
	}
	if err := live.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, err, "live preview server shutdown")
	}

	if watchMessage == "" {
		return nil
	}
	target, err := sess.Commit(shutdownCtx, watchMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s: %s\n", ref, target)
	return nil
}
