// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/holdproxy/config.toml",
	"/etc/holdproxy.yaml",
	"configs/config.toml",
}

// Defaults used when neither the file nor the flags set a value.
const (
	DefaultPort         = 3001
	DefaultUpstreamHost = "localhost"
	DefaultUpstreamPort = 3000
	DefaultMaxAttempts  = 10
	DefaultDelaySeconds = 5.0
	DefaultAdminPrefix  = "/_holdproxy"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML or YAML config file.',env='HOLDPROXY_CONFIG'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOLDPROXY_HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='HOLDPROXY_PORT'"`
	Upstream    string `kong:"short='u',help='Upstream as host:port, port or host (overrides config).',env='HOLDPROXY_UPSTREAM'"`
	MaxAttempts int    `kong:"help='Maximum upstream attempts per request (overrides config).',env='HOLDPROXY_MAX_ATTEMPTS'"`
	Delay       string `kong:"help='Seconds to wait between attempts (overrides config).',env='HOLDPROXY_DELAY'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is resolved once at
// startup and never mutated afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Retry    RetryConfig    `toml:"retry" yaml:"retry"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (3001)
	BodyMaxBytes SizeBytes       `toml:"body_max_bytes" yaml:"body_max_bytes"`
	AdminPrefix  string          `toml:"admin_prefix" yaml:"admin_prefix"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings. Target is a shortcut
// that, when set, replaces Host and Port.
type UpstreamConfig struct {
	Target                       string `toml:"target" yaml:"target"`
	Host                         string `toml:"host" yaml:"host"`
	Port                         int    `toml:"port" yaml:"port"`
	ConnectTimeoutSeconds        int    `toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int    `toml:"response_header_timeout_seconds" yaml:"response_header_timeout_seconds"`
	IdleConnections              int    `toml:"idle_connections" yaml:"idle_connections"`
}

// RetryConfig controls how long a request is held while the upstream is down.
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts" yaml:"max_attempts"`
	// DelaySeconds is a pointer so that an explicit 0 survives defaulting.
	DelaySeconds *float64 `toml:"delay_seconds" yaml:"delay_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the config file, applies CLI overrides, fills defaults and
// validates the result. When no explicit path is given (via --config or
// HOLDPROXY_CONFIG) the search paths are tried, and if none exists the
// defaults are used on their own.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: flags: %w", err)
	}
	if cfg.Upstream.Target != "" {
		host, port, err := ParseTarget(cfg.Upstream.Target)
		if err != nil {
			return nil, fmt.Errorf("config: upstream.target: %w", err)
		}
		cfg.Upstream.Host, cfg.Upstream.Port = host, port
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// decode picks the format from the file extension; anything that is not
// .yaml or .yml is read as TOML.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.Target = cli.Upstream
	}
	if cli.MaxAttempts != 0 {
		c.Retry.MaxAttempts = cli.MaxAttempts
	}
	if cli.Delay != "" {
		d, err := strconv.ParseFloat(cli.Delay, 64)
		if err != nil {
			return fmt.Errorf("delay %q is not a number of seconds", cli.Delay)
		}
		c.Retry.DelaySeconds = &d
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	return nil
}

// setDefaults fills zero-valued fields. For integer fields zero means "unset"
// because TOML cannot distinguish an explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MiB
	}
	if c.Server.AdminPrefix == "" {
		c.Server.AdminPrefix = DefaultAdminPrefix
	}
	c.Server.AdminPrefix = strings.TrimRight(c.Server.AdminPrefix, "/")
	if c.Upstream.Host == "" {
		c.Upstream.Host = DefaultUpstreamHost
	}
	if c.Upstream.Port == 0 {
		c.Upstream.Port = DefaultUpstreamPort
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.DelaySeconds == nil {
		d := DefaultDelaySeconds
		c.Retry.DelaySeconds = &d
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = c.Server.AdminPrefix + "/metrics"
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

// Source returns the config file the values were read from, or "defaults".
func (c *Config) Source() string {
	if c.filePath == "" {
		return "defaults"
	}
	return c.filePath
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the upstream address as host:port.
func (c *UpstreamConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Delay returns the configured retry delay.
func (c *RetryConfig) Delay() time.Duration {
	if c.DelaySeconds == nil {
		return 0
	}
	return time.Duration(*c.DelaySeconds * float64(time.Second))
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
