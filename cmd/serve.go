package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sowing/internal/server"
	"github.com/conneroisu/sowing/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the wiki server",
	Long: `Start the wiki: page views, the edit host page, revision history and
diffs, plus the /_preview and /upload endpoints the editor talks to.

Examples:
  sowing serve                        # Serve on localhost:8080 with sowing.db
  sowing serve --port 9090 --db wiki.db
  sowing serve --renderer markdown    # Render pages as Markdown instead of Org`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (default 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default localhost)")
	serveCmd.Flags().String("db", "", "SQLite database file (default sowing.db)")
	serveCmd.Flags().String("uploads", "", "Directory for uploaded files (default uploads)")
	serveCmd.Flags().String("renderer", "", "Page markup: org or markdown (default org)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.db", serveCmd.Flags().Lookup("db"))
	viper.BindPFlag("server.uploads_dir", serveCmd.Flags().Lookup("uploads"))
	viper.BindPFlag("server.renderer", serveCmd.Flags().Lookup("renderer"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := store.Open(ctx, cfg.Server.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	srv, err := server.New(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, err, "error during server shutdown")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting sowing at http://%s\n", cfg.Server.Addr())

	return srv.Start(ctx)
}
