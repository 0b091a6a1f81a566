// Package config loads the router configuration: which sub-apps exist, where
// they live on disk, and the prefixes they are mounted under.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join("config", "router.yaml")

// DefaultExport is the export name a manifest is searched for first.
const DefaultExport = "asgi_app"

// Config is the full router configuration.
type Config struct {
	Addr            string          `yaml:"addr"`
	AdminAddr       string          `yaml:"admin_addr"`
	BaseDir         string          `yaml:"base_dir"`
	Favicon         string          `yaml:"favicon"`
	Redirect        RedirectConfig  `yaml:"redirect"`
	Apps            []AppConfig     `yaml:"apps"`
	Logging         LoggingConfig   `yaml:"logging"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	CORS            CORSConfig      `yaml:"cors"`
	Health          HealthConfig    `yaml:"health"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// AppConfig describes one sub-app. The order of Config.Apps is the prefix
// matching order.
type AppConfig struct {
	Name      string `yaml:"name"`
	Dir       string `yaml:"dir"`
	Prefix    string `yaml:"prefix"`
	WebSocket bool   `yaml:"websocket"`
	Default   bool   `yaml:"default"`
	Export    string `yaml:"export"`
}

// RedirectConfig holds the targets for the bare "/" path.
type RedirectConfig struct {
	Mobile  string `yaml:"mobile"`
	Desktop string `yaml:"desktop"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig configures the per-client limiter. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HealthConfig configures upstream probing. An empty schedule disables it.
type HealthConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// envOverrides are applied on top of the file configuration.
type envOverrides struct {
	Addr           string  `env:"ROUTER_ADDR"`
	AdminAddr      string  `env:"ROUTER_ADMIN_ADDR"`
	BaseDir        string  `env:"ROUTER_BASE_DIR"`
	Favicon        string  `env:"ROUTER_FAVICON"`
	LogLevel       string  `env:"LOG_LEVEL"`
	LogFormat      string  `env:"LOG_FORMAT"`
	RateLimit      float64 `env:"ROUTER_RATE_LIMIT"`
	RateBurst      int     `env:"ROUTER_RATE_BURST"`
	AllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS"`
	HealthSchedule string  `env:"ROUTER_HEALTH_SCHEDULE"`
}

// Load reads an optional .env file, the YAML file at path, and environment
// overrides, then validates the result. An empty path reads DefaultPath and
// falls back to DefaultConfig when that file does not exist; a path given
// explicitly must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	optional := path == ""
	if optional {
		path = DefaultPath
	}

	cfg, err := LoadFromPath(path)
	if optional && errors.Is(err, fs.ErrNotExist) {
		cfg = DefaultConfig()
	} else if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath parses the YAML file at path without applying environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read router config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Apps = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse router config: %w", err)
	}
	if len(cfg.Apps) == 0 {
		cfg.Apps = DefaultConfig().Apps
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("decode environment: %w", err)
	}

	if env.Addr != "" {
		c.Addr = env.Addr
	}
	if env.AdminAddr != "" {
		c.AdminAddr = env.AdminAddr
		if strings.EqualFold(env.AdminAddr, "off") {
			c.AdminAddr = ""
		}
	}
	if env.BaseDir != "" {
		c.BaseDir = env.BaseDir
	}
	if env.Favicon != "" {
		c.Favicon = env.Favicon
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.RateLimit > 0 {
		c.RateLimit.RequestsPerSecond = env.RateLimit
	}
	if env.RateBurst > 0 {
		c.RateLimit.Burst = env.RateBurst
	}
	if env.AllowedOrigins != "" {
		c.CORS.AllowedOrigins = splitCSV(env.AllowedOrigins)
	}
	if env.HealthSchedule != "" {
		c.Health.Schedule = env.HealthSchedule
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Redirect.Mobile == "" {
		c.Redirect.Mobile = def.Redirect.Mobile
	}
	if c.Redirect.Desktop == "" {
		c.Redirect.Desktop = def.Redirect.Desktop
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) + 1
	}
	if c.RateLimit.CleanupInterval <= 0 {
		c.RateLimit.CleanupInterval = def.RateLimit.CleanupInterval
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = def.Health.Timeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	for i := range c.Apps {
		if c.Apps[i].Export == "" {
			c.Apps[i].Export = DefaultExport
		}
		if c.Apps[i].Dir == "" {
			c.Apps[i].Dir = c.Apps[i].Name
		}
	}
}

// Validate checks names, prefixes and the default app.
func (c *Config) Validate() error {
	if len(c.Apps) == 0 {
		return errors.New("config: no apps configured")
	}

	seen := make(map[string]bool, len(c.Apps))
	defaults := 0
	for i, app := range c.Apps {
		if strings.TrimSpace(app.Name) == "" {
			return fmt.Errorf("config: app %d: name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("config: app %s: duplicate name", app.Name)
		}
		seen[app.Name] = true

		if !strings.HasPrefix(app.Prefix, "/") || app.Prefix == "/" {
			return fmt.Errorf("config: app %s: prefix %q must start with / and not be the root", app.Name, app.Prefix)
		}
		if app.Default {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("config: exactly one default app required, found %d", defaults)
	}
	if !strings.HasPrefix(c.Redirect.Mobile, "/") || !strings.HasPrefix(c.Redirect.Desktop, "/") {
		return errors.New("config: redirect targets must be absolute paths")
	}
	return nil
}

// AppDir returns the absolute-or-base-relative directory for app.
func (c *Config) AppDir(app AppConfig) string {
	if filepath.IsAbs(app.Dir) {
		return app.Dir
	}
	return filepath.Join(c.BaseDir, app.Dir)
}

// FaviconPath returns the favicon file path, resolved against BaseDir.
func (c *Config) FaviconPath() string {
	if c.Favicon == "" || filepath.IsAbs(c.Favicon) {
		return c.Favicon
	}
	return filepath.Join(c.BaseDir, c.Favicon)
}

// DefaultConfig mirrors the original deployment: five sub-apps, desktop as the
// default and WebSocket fallback.
func DefaultConfig() *Config {
	return &Config{
		Addr:      ":8000",
		AdminAddr: ":9090",
		BaseDir:   ".",
		Favicon:   filepath.Join("pitext_desktop", "public", "assets", "Strassens_icon.ico"),
		Redirect: RedirectConfig{
			Mobile:  "/mobile/",
			Desktop: "/desktop/",
		},
		Apps: []AppConfig{
			{Name: "codegen", Dir: "pitext_codegen", Prefix: "/codegen", WebSocket: true, Export: DefaultExport},
			{Name: "travel", Dir: "pitext_travel", Prefix: "/travel", WebSocket: true, Export: DefaultExport},
			{Name: "calendar", Dir: "calendar_integration", Prefix: "/calendar", Export: DefaultExport},
			{Name: "desktop", Dir: "pitext_desktop", Prefix: "/desktop", Default: true, Export: DefaultExport},
			{Name: "mobile", Dir: "pitext-mobile", Prefix: "/mobile", Export: DefaultExport},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: 10 * time.Minute,
		},
		Health: HealthConfig{
			Schedule: "@every 30s",
			Timeout:  5 * time.Second,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
