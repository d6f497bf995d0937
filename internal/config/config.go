// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/nekostream/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	DBPath   string `kong:"help='Catalog SQLite database path (overrides config).',env='DB_PATH'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds settings for outbound fetches against embed hosts and CDNs.
type UpstreamConfig struct {
	// EmbedHost is the hostname whose pages are scraped for stream links.
	// URLs containing this host (or the literal "embed") go through the extractor.
	EmbedHost string `toml:"embed_host"`
	// Referer is sent on every outbound request; the embed host rejects
	// requests without it. Origin is derived from the same value on proxy fetches.
	Referer              string `toml:"referer"`
	UserAgent            string `toml:"user_agent"`
	ScrapeTimeoutSeconds int    `toml:"scrape_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`
}

// CatalogConfig holds catalog storage and caching settings.
type CatalogConfig struct {
	DBPath           string `toml:"db_path"`
	PageSize         int    `toml:"page_size"`
	GenreTTLSeconds  int    `toml:"genre_ttl_seconds"`
	GenreRefreshCron string `toml:"genre_refresh_cron"`
	ViewQueueSize    int    `toml:"view_queue_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/nekostream/config.toml then configs/config.toml. A missing config
// file is not an error: every field has a usable default.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.DBPath != "" {
		c.Catalog.DBPath = cli.DBPath
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.ScrapeTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.scrape_timeout_seconds must be non-negative; got %d", c.Upstream.ScrapeTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Catalog.PageSize < 0 {
		return fmt.Errorf("catalog.page_size must be non-negative; got %d", c.Catalog.PageSize)
	}
	if c.Catalog.GenreTTLSeconds < 0 {
		return fmt.Errorf("catalog.genre_ttl_seconds must be non-negative; got %d", c.Catalog.GenreTTLSeconds)
	}
	if c.Catalog.ViewQueueSize < 0 {
		return fmt.Errorf("catalog.view_queue_size must be non-negative; got %d", c.Catalog.ViewQueueSize)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, PageSize, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 * 1024 * 1024 // 1 MB; the API is GET-only
	}
	if c.Upstream.EmbedHost == "" {
		c.Upstream.EmbedHost = "saitou.my.id"
	}
	if c.Upstream.Referer == "" {
		c.Upstream.Referer = "https://saitou.my.id/"
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
	}
	if c.Upstream.ScrapeTimeoutSeconds == 0 {
		c.Upstream.ScrapeTimeoutSeconds = 5
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Catalog.DBPath == "" {
		c.Catalog.DBPath = "data/catalog.db"
	}
	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = 20
	}
	if c.Catalog.GenreTTLSeconds == 0 {
		c.Catalog.GenreTTLSeconds = 3600
	}
	if c.Catalog.GenreRefreshCron == "" {
		c.Catalog.GenreRefreshCron = "@hourly"
	}
	if c.Catalog.ViewQueueSize == 0 {
		c.Catalog.ViewQueueSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
