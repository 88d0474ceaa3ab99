package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, RendererOrg, cfg.Server.Renderer)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "http://localhost:8080", cfg.Editor.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Editor.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "custom values",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 9090)
				v.Set("server.renderer", "markdown")
				v.Set("editor.base_url", "https://wiki.example.com/")
				v.Set("editor.debounce", "400ms")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, RendererMarkdown, cfg.Server.Renderer)
				assert.Equal(t, "https://wiki.example.com", cfg.Editor.BaseURL)
				assert.Equal(t, 400*time.Millisecond, cfg.Editor.Debounce)
			},
		},
		{
			name: "base url follows server address",
			setup: func(v *viper.Viper) {
				v.Set("server.host", "0.0.0.0")
				v.Set("server.port", 3000)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://0.0.0.0:3000", cfg.Editor.BaseURL)
				assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
			},
		},
		{
			name:        "port out of range",
			setup:       func(v *viper.Viper) { v.Set("server.port", 70000) },
			expectError: true,
		},
		{
			name:        "non numeric port",
			setup:       func(v *viper.Viper) { v.Set("server.port", "invalid_port") },
			expectError: true,
		},
		{
			name:        "unknown renderer",
			setup:       func(v *viper.Viper) { v.Set("server.renderer", "rst") },
			expectError: true,
		},
		{
			name:        "relative base url",
			setup:       func(v *viper.Viper) { v.Set("editor.base_url", "/wiki") },
			expectError: true,
		},
		{
			name:        "unknown log format",
			setup:       func(v *viper.Viper) { v.Set("log.format", "xml") },
			expectError: true,
		},
		{
			name:        "short session key",
			setup:       func(v *viper.Viper) { v.Set("server.session_key", "too-short") },
			expectError: true,
		},
		{
			name: "login settings",
			setup: func(v *viper.Viper) {
				v.Set("server.session_key", "0123456789abcdef0123456789abcdef")
				v.Set("server.require_login", true)
				v.Set("editor.username", "ana")
				v.Set("editor.password", "s3cret")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.RequireLogin)
				assert.Len(t, cfg.Server.SessionKey, 32)
				assert.Equal(t, "ana", cfg.Editor.Username)
				assert.Equal(t, "s3cret", cfg.Editor.Password)
			},
		},
		{
			name:        "host with shell characters",
			setup:       func(v *viper.Viper) { v.Set("server.host", "localhost; rm -rf /") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".sowing.yml")
	content := `
server:
  port: 8181
  uploads_dir: /tmp/sowing-uploads
  preview_rps: 5
editor:
  debounce: 100ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "/tmp/sowing-uploads", cfg.Server.UploadsDir)
	assert.Equal(t, float64(5), cfg.Server.PreviewRPS)
	assert.Equal(t, 100*time.Millisecond, cfg.Editor.Debounce)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadUsesGlobalViper(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("server.port", 8282)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8282, cfg.Server.Port)
}

func TestLoadReadsEnvWithoutFlagOrFile(t *testing.T) {
	t.Setenv("SOWING_EDITOR_USERNAME", "ana")
	t.Setenv("SOWING_EDITOR_PASSWORD", "s3cret")
	t.Setenv("SOWING_SERVER_REQUIRE_LOGIN", "true")

	v := viper.New()
	v.SetEnvPrefix("SOWING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "ana", cfg.Editor.Username)
	assert.Equal(t, "s3cret", cfg.Editor.Password)
	assert.True(t, cfg.Server.RequireLogin)
}
