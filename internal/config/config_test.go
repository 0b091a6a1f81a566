package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	orig := DefaultPath
	DefaultPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { DefaultPath = orig })

	cfg, err := Load("")
	require.NoError(t, err)

	names := make([]string, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		names = append(names, app.Name)
	}
	assert.Equal(t, []string{"codegen", "travel", "calendar", "desktop", "mobile"}, names)
	assert.Equal(t, "/mobile/", cfg.Redirect.Mobile)
	assert.Equal(t, "/desktop/", cfg.Redirect.Desktop)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "router.yaml", `
addr: ":8081"
base_dir: /srv/pitext
favicon: static/favicon.ico
rate_limit:
  requests_per_second: 5
apps:
  - name: desktop
    prefix: /desktop
    default: true
  - name: codegen
    dir: /opt/codegen
    prefix: /codegen
    websocket: true
    export: app
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Addr)
	require.Len(t, cfg.Apps, 2)
	assert.Equal(t, "desktop", cfg.Apps[0].Dir, "dir defaults to the app name")
	assert.Equal(t, DefaultExport, cfg.Apps[0].Export)
	assert.Equal(t, "app", cfg.Apps[1].Export)
	assert.Equal(t, 6, cfg.RateLimit.Burst)
	assert.Equal(t, filepath.Join("/srv/pitext", "desktop"), cfg.AppDir(cfg.Apps[0]))
	assert.Equal(t, "/opt/codegen", cfg.AppDir(cfg.Apps[1]))
	assert.Equal(t, filepath.Join("/srv/pitext", "static/favicon.ico"), cfg.FaviconPath())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROUTER_ADDR", ":7000")
	t.Setenv("ROUTER_ADMIN_ADDR", "off")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("ROUTER_RATE_LIMIT", "2.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "", cfg.AdminAddr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "router.yaml", "apps: [\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no apps", func(c *Config) { c.Apps = nil }},
		{"duplicate name", func(c *Config) { c.Apps[1].Name = c.Apps[0].Name }},
		{"empty name", func(c *Config) { c.Apps[0].Name = " " }},
		{"relative prefix", func(c *Config) { c.Apps[0].Prefix = "codegen" }},
		{"root prefix", func(c *Config) { c.Apps[0].Prefix = "/" }},
		{"no default", func(c *Config) { c.Apps[3].Default = false }},
		{"two defaults", func(c *Config) { c.Apps[0].Default = true }},
		{"relative redirect", func(c *Config) { c.Redirect.Mobile = "mobile/" }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
