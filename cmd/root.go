// Package cmd provides the command-line interface for sowing.
//
// Configuration System:
//
//	Values come from several sources, highest priority first:
//	1. Command-line flags (--config, --port, --base-url, etc.)
//	2. SOWING_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (SOWING_SERVER_PORT, SOWING_EDITOR_DEBOUNCE, ...)
//	4. Configuration file (.sowing.yml in the working directory)
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sowing/internal/config"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sowing",
	Short: "A small wiki with a live-preview editor",
	Long: `Sowing is a wiki whose editor previews rendered markup while you type,
uploads attachments in place and saves each change as a revision.

Quick Start:
  sowing serve                          Start the wiki
  sowing edit main/home                 Edit a page in the terminal
  sowing watch notes.org --page main/notes
                                        Edit a page in your own editor with a live preview
  sowing commit main/home --file home.org -m "update"
                                        Save a file as a new revision`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, sowerrors.FormatError(err))
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sowing.yml, can also use SOWING_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("base-url", "", "wiki to edit against (default http://<server.host>:<server.port>)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("editor.base_url", rootCmd.PersistentFlags().Lookup("base-url"))
}

// initConfig points viper at the config file and enables SOWING_ env
// overrides. A missing file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SOWING_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sowing")
	}

	viper.SetEnvPrefix("SOWING")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section, writing to w.
func newLogger(cfg *config.Config, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: w,
	}), nil
}
