// Package config provides configuration management for sowing using Viper
// for flexible loading from files, environment variables, and command-line
// flags.
//
// The configuration file is .sowing.yml (or SOWING_CONFIG_FILE / --config).
// Every key can be overridden through SOWING_<SECTION>_<KEY> environment
// variables, e.g. SOWING_SERVER_PORT=9090 or SOWING_EDITOR_DEBOUNCE=400ms.
package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Renderer names accepted by server.renderer.
const (
	RendererOrg      = "org"
	RendererMarkdown = "markdown"
)

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Editor EditorConfig `mapstructure:"editor" yaml:"editor"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host" yaml:"host"`
	Port           int     `mapstructure:"port" yaml:"port"`
	Database       string  `mapstructure:"db" yaml:"db"`
	UploadsDir     string  `mapstructure:"uploads_dir" yaml:"uploads_dir"`
	Renderer       string  `mapstructure:"renderer" yaml:"renderer"`
	MaxUploadBytes int64   `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	PreviewRPS     float64 `mapstructure:"preview_rps" yaml:"preview_rps"`
	PreviewBurst   int     `mapstructure:"preview_burst" yaml:"preview_burst"`
	// SessionKey signs login cookies. Empty means a random key per
	// process, so logins do not survive a restart. Secrets are never
	// printed by `sowing config show`.
	SessionKey string `mapstructure:"session_key" yaml:"-" json:"-"`
	// RequireLogin closes every route but login and registration to
	// anonymous visitors.
	RequireLogin bool `mapstructure:"require_login" yaml:"require_login"`
}

type EditorConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	// Author is recorded with every revision committed from this machine.
	Author string `mapstructure:"author" yaml:"author"`
	// LiveAddr is where `sowing watch` serves its live preview page.
	LiveAddr string `mapstructure:"live_addr" yaml:"live_addr"`
	// Username and Password log the editing hosts in before they fetch
	// the host page. Leave Username empty on an open wiki.
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-" json:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Defaults applied to unset keys.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 8080
	DefaultDatabase       = "sowing.db"
	DefaultUploadsDir     = "uploads"
	DefaultMaxUploadBytes = 10 << 20
	DefaultPreviewRPS     = 20
	DefaultPreviewBurst   = 40
	DefaultDebounce       = 250 * time.Millisecond
	DefaultLiveAddr       = "localhost:8090"
	DefaultAuthor         = "anonymous"
	DefaultLogFile        = ".sowing/editor.log"

	minSessionKeyLength = 32
)

// Load builds a Config from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds a Config from v, applying defaults and validation.
func LoadFrom(v *viper.Viper) (*Config, error) {
	bindEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// bindEnv registers every key with v. Unmarshal only reads keys viper
// already knows, so without this AutomaticEnv misses keys that have no
// flag or file entry.
func bindEnv(v *viper.Viper) {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			key := section.Tag.Get("mapstructure") + "." + section.Type.Field(j).Tag.Get("mapstructure")
			_ = v.BindEnv(key)
		}
	}
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Database == "" {
		config.Server.Database = DefaultDatabase
	}
	if config.Server.UploadsDir == "" {
		config.Server.UploadsDir = DefaultUploadsDir
	}
	if config.Server.Renderer == "" {
		config.Server.Renderer = RendererOrg
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.Server.PreviewRPS == 0 {
		config.Server.PreviewRPS = DefaultPreviewRPS
	}
	if config.Server.PreviewBurst == 0 {
		config.Server.PreviewBurst = DefaultPreviewBurst
	}

	if config.Editor.BaseURL == "" {
		config.Editor.BaseURL = fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)
	}
	config.Editor.BaseURL = strings.TrimRight(config.Editor.BaseURL, "/")
	if config.Editor.Debounce == 0 {
		config.Editor.Debounce = DefaultDebounce
	}
	if config.Editor.Author == "" {
		config.Editor.Author = DefaultAuthor
	}
	if config.Editor.LiveAddr == "" {
		config.Editor.LiveAddr = DefaultLiveAddr
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
	if config.Log.File == "" {
		config.Log.File = DefaultLogFile
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateEditorConfig(&config.Editor); err != nil {
		return fmt.Errorf("editor config: %w", err)
	}
	if err := validateLogConfig(&config.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func validateServerConfig(server *ServerConfig) error {
	if server.Port < 1 || server.Port > 65535 {
		return fmt.Errorf("port %d out of range", server.Port)
	}
	if strings.ContainsAny(server.Host, " \t;&|`$") {
		return fmt.Errorf("host %q contains invalid characters", server.Host)
	}
	switch server.Renderer {
	case RendererOrg, RendererMarkdown:
	default:
		return fmt.Errorf("unknown renderer %q (supported: %s, %s)", server.Renderer, RendererOrg, RendererMarkdown)
	}
	if server.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must not be negative")
	}
	if server.PreviewRPS < 0 || server.PreviewBurst < 0 {
		return fmt.Errorf("preview rate limits must not be negative")
	}
	if server.SessionKey != "" && len(server.SessionKey) < minSessionKeyLength {
		return fmt.Errorf("session_key must be at least %d characters long", minSessionKeyLength)
	}
	return nil
}

func validateEditorConfig(editor *EditorConfig) error {
	u, err := url.Parse(editor.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", editor.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", editor.BaseURL)
	}
	if editor.Debounce < 0 {
		return fmt.Errorf("debounce must be positive, got %s", editor.Debounce)
	}
	return nil
}

func validateLogConfig(log *LogConfig) error {
	switch strings.ToLower(log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", log.Format)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
