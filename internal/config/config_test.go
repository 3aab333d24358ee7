package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to name inside a fresh temp dir and returns the path.
func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = "5MB"

[upstream]
host = "backend.internal"
port = 8080
connect_timeout_seconds = 3

[retry]
max_attempts = 4
delay_seconds = 0.5

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.BodyMaxBytes != 5_000_000 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 5_000_000)
	}
	if got := cfg.Upstream.Addr(); got != "backend.internal:8080" {
		t.Errorf("Upstream.Addr() = %q, want %q", got, "backend.internal:8080")
	}
	if cfg.Upstream.ConnectTimeoutSeconds != 3 {
		t.Errorf("Upstream.ConnectTimeoutSeconds = %d, want %d", cfg.Upstream.ConnectTimeoutSeconds, 3)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Retry.MaxAttempts, 4)
	}
	if got := cfg.Retry.Delay(); got != 500*time.Millisecond {
		t.Errorf("Retry.Delay() = %v, want %v", got, 500*time.Millisecond)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.Source() != path {
		t.Errorf("Source() = %q, want %q", cfg.Source(), path)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "holdproxy.yaml", `
server:
  port: 3101
  body_max_bytes: 1048576
upstream:
  target: "api.local:9999"
retry:
  max_attempts: 3
  delay_seconds: 2
log:
  level: WARN
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3101 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3101)
	}
	if cfg.Server.BodyMaxBytes != 1048576 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1048576)
	}
	if got := cfg.Upstream.Addr(); got != "api.local:9999" {
		t.Errorf("Upstream.Addr() = %q, want %q", got, "api.local:9999")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Retry.MaxAttempts, 3)
	}
	if got := cfg.Retry.Delay(); got != 2*time.Second {
		t.Errorf("Retry.Delay() = %v, want %v", got, 2*time.Second)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.toml", "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Server.AdminPrefix != DefaultAdminPrefix {
		t.Errorf("default Server.AdminPrefix = %q, want %q", cfg.Server.AdminPrefix, DefaultAdminPrefix)
	}
	if got := cfg.Upstream.Addr(); got != "localhost:3000" {
		t.Errorf("default Upstream.Addr() = %q, want %q", got, "localhost:3000")
	}
	if cfg.Retry.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("default Retry.MaxAttempts = %d, want %d", cfg.Retry.MaxAttempts, DefaultMaxAttempts)
	}
	if got := cfg.Retry.Delay(); got != 5*time.Second {
		t.Errorf("default Retry.Delay() = %v, want %v", got, 5*time.Second)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/_holdproxy/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/_holdproxy/metrics")
	}
}

func TestLoad_ExplicitZeroDelay(t *testing.T) {
	path := writeConfig(t, "config.toml", "[retry]\ndelay_seconds = 0.0\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Retry.Delay(); got != 0 {
		t.Errorf("Retry.Delay() = %v, want 0", got)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{"/nonexistent/a.toml"}
	defer func() { configSearchPaths = orig }()

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source() != "defaults" {
		t.Errorf("Source() = %q, want %q", cfg.Source(), "defaults")
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "config.toml", "[server\nport = ")

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
target = "file-host:1111"

[retry]
max_attempts = 2
delay_seconds = 9.0

[log]
level = "info"
`)

	cli := &CLI{
		Config:      path,
		Host:        "127.0.0.1",
		Port:        4000,
		Upstream:    "7000",
		MaxAttempts: 6,
		Delay:       "0.25",
		LogLevel:    "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 4000)
	}
	if got := cfg.Upstream.Addr(); got != "localhost:7000" {
		t.Errorf("Upstream.Addr() = %q, want %q (CLI override)", got, "localhost:7000")
	}
	if cfg.Retry.MaxAttempts != 6 {
		t.Errorf("Retry.MaxAttempts = %d, want %d (CLI override)", cfg.Retry.MaxAttempts, 6)
	}
	if got := cfg.Retry.Delay(); got != 250*time.Millisecond {
		t.Errorf("Retry.Delay() = %v, want %v (CLI override)", got, 250*time.Millisecond)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_BadDelayFlag(t *testing.T) {
	path := writeConfig(t, "config.toml", "")

	if _, err := Load(&CLI{Config: path, Delay: "soon"}); err == nil {
		t.Fatal("Load() expected error for non-numeric delay, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantText string
	}{
		{"negative port", "[server]\nport = -1\n", "Port"},
		{"port too large", "[server]\nport = 70000\n", "Port"},
		{"negative body size", "[server]\nbody_max_bytes = -1\n", "BodyMaxBytes"},
		{"admin prefix without slash", "[server]\nadmin_prefix = \"admin\"\n", "AdminPrefix"},
		{"negative max attempts", "[retry]\nmax_attempts = -3\n", "MaxAttempts"},
		{"negative delay", "[retry]\ndelay_seconds = -1.0\n", "DelaySeconds"},
		{"negative connect timeout", "[upstream]\nconnect_timeout_seconds = -5\n", "ConnectTimeoutSeconds"},
		{"bad upstream host", "[upstream]\nhost = \"not a host\"\n", "Host"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "Level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "Format"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "RequestsPerSecond"},
		{"bad target", "[upstream]\ntarget = \"host:notaport\"\n", "upstream.target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.toml", tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantText)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr string
	}{
		{"custom path", "[metrics]\nenabled = true\npath = \"/custom-metrics\"\n", "/custom-metrics", ""},
		{"follows admin prefix", "[server]\nadmin_prefix = \"/ops/\"\n[metrics]\nenabled = true\n", "/ops/metrics", ""},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "", "Path"},
		{"shadows healthz", "[metrics]\nenabled = true\npath = \"/_holdproxy/healthz\"\n", "", "conflicts"},
		{"shadows status", "[metrics]\nenabled = true\npath = \"/_holdproxy/status/x\"\n", "", "conflicts"},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", "bad-no-slash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.toml", tt.data)
			cfg, err := Load(cliWithPath(path))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("Load() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Metrics.Path != tt.want {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.want)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "config.toml", "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	first := writeConfig(t, "config.toml", "")
	second := writeConfig(t, "holdproxy.yaml", "")

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{first}, first},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.yaml"}, ""},
		{"priority", []string{first, second}, first},
		{"skips missing", []string{"/nonexistent/a.toml", second}, second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestUpstreamConfig_Addr_IPv6(t *testing.T) {
	uc := &UpstreamConfig{Host: "::1", Port: 3000}
	if got, want := uc.Addr(), "[::1]:3000"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_LegacyYAML(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantPort     int
		wantUpstream string
		wantAttempts int
		wantDelay    time.Duration
	}{
		{
			name:         "numeric upstream",
			data:         "holdproxy:\n  port: 4001\n  upstream: 3005\n  maxAttempts: 4\n  delay: 0.5\n",
			wantPort:     4001,
			wantUpstream: "localhost:3005",
			wantAttempts: 4,
			wantDelay:    500 * time.Millisecond,
		},
		{
			name:         "host and port",
			data:         "holdproxy:\n  upstream: api.local:8080\n",
			wantPort:     DefaultPort,
			wantUpstream: "api.local:8080",
			wantAttempts: DefaultMaxAttempts,
			wantDelay:    5 * time.Second,
		},
		{
			name:         "bare host",
			data:         "holdproxy:\n  upstream: api.local\n  delay: 0\n",
			wantPort:     DefaultPort,
			wantUpstream: "api.local:80",
			wantAttempts: DefaultMaxAttempts,
			wantDelay:    0,
		},
		{
			name:         "split upstream fields",
			data:         "holdproxy:\n  upstreamHost: 10.0.0.5\n  upstreamPort: 9000\n",
			wantPort:     DefaultPort,
			wantUpstream: "10.0.0.5:9000",
			wantAttempts: DefaultMaxAttempts,
			wantDelay:    5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(cliWithPath(writeConfig(t, "holdproxy.yaml", tt.data)))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Server.Port != tt.wantPort {
				t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if got := cfg.Upstream.Addr(); got != tt.wantUpstream {
				t.Errorf("Upstream.Addr() = %q, want %q", got, tt.wantUpstream)
			}
			if cfg.Retry.MaxAttempts != tt.wantAttempts {
				t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Retry.MaxAttempts, tt.wantAttempts)
			}
			if got := cfg.Retry.Delay(); got != tt.wantDelay {
				t.Errorf("Retry.Delay() = %v, want %v", got, tt.wantDelay)
			}
		})
	}
}

func TestLoad_YAMLUnknownKeys(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"misspelt field", "server:\n  prot: 3101\n"},
		{"foreign root", "proxy:\n  port: 3101\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(cliWithPath(writeConfig(t, "holdproxy.yaml", tt.data))); err == nil {
				t.Error("Load() should reject unknown keys")
			}
		})
	}
}
