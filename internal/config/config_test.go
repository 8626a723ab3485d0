package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
status_endpoint = true

[upstream]
base_url = "https://api.openai.com"
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"

[tracing]
enabled = true
service_name = "edge"
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
	if cfg.Server.BodyMaxBytes != 5242880 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 5242880)
	}
	if !cfg.Server.StatusEndpoint {
		t.Error("Server.StatusEndpoint = false, want true")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "edge" {
		t.Errorf("Tracing = %+v, want enabled with service_name %q", cfg.Tracing, "edge")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 0 {
		t.Errorf("default Server.BodyMaxBytes = %d, want 0 (unlimited)", cfg.Server.BodyMaxBytes)
	}
	if cfg.Upstream.BaseURL != DefaultUpstream {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultUpstream)
	}
	if cfg.Upstream.TimeoutSeconds != 600 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 600)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Server.StatusEndpoint || cfg.Metrics.Enabled || cfg.Tracing.Enabled || cfg.Server.RateLimit.Enabled {
		t.Error("optional features should be disabled by default")
	}
	if cfg.Tracing.ServiceName != "openai-proxy" {
		t.Errorf("default Tracing.ServiceName = %q, want %q", cfg.Tracing.ServiceName, "openai-proxy")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	// The package directory has no configs/config.toml, and /etc is not expected
	// to carry one on a test machine.
	if findConfig() != "" {
		t.Skip("a config file exists in the search path")
	}

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
	if cfg.Upstream.BaseURL != DefaultUpstream {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultUpstream)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "https://api.openai.com"

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		Upstream: "https://gateway.example.com",
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Upstream.BaseURL != "https://gateway.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want %q (CLI override)", cfg.Upstream.BaseURL, "https://gateway.example.com")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "http upstream",
			data:    "[upstream]\nbase_url = \"http://api.openai.com\"\n",
			wantErr: "HTTPS",
		},
		{
			name:    "upstream with path",
			data:    "[upstream]\nbase_url = \"https://api.openai.com/v1\"\n",
			wantErr: "origin",
		},
		{
			name:    "upstream with query",
			data:    "[upstream]\nbase_url = \"https://api.openai.com?x=1\"\n",
			wantErr: "origin",
		},
		{
			name:    "upstream without host",
			data:    "[upstream]\nbase_url = \"https://\"\n",
			wantErr: "host",
		},
		{
			name:    "negative port",
			data:    "[server]\nport = -1\n",
			wantErr: "server.port",
		},
		{
			name:    "port too large",
			data:    "[server]\nport = 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "negative body_max_bytes",
			data:    "[server]\nbody_max_bytes = -1\n",
			wantErr: "body_max_bytes",
		},
		{
			name:    "negative timeout",
			data:    "[upstream]\ntimeout_seconds = -5\n",
			wantErr: "timeout_seconds",
		},
		{
			name:    "negative idle connections",
			data:    "[upstream]\nidle_connections = -1\n",
			wantErr: "idle_connections",
		},
		{
			name:    "invalid log level",
			data:    "[log]\nlevel = \"verbose\"\n",
			wantErr: "log.level",
		},
		{
			name:    "invalid log format",
			data:    "[log]\nformat = \"xml\"\n",
			wantErr: "log.format",
		},
		{
			name:    "rate limit without rps",
			data:    "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n",
			wantErr: "requests_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_CLIUpstreamValidated(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	_, err := Load(&CLI{Config: path, Upstream: "http://api.openai.com"})
	if err == nil {
		t.Fatal("Load() expected error for plain HTTP upstream from CLI, got nil")
	}
}

func TestLoad_UpstreamTrailingSlashAllowed(t *testing.T) {
	path := writeConfig(t, "[upstream]\nbase_url = \"https://api.openai.com/\"\n")

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
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

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

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

func TestWarnPermissions_NoFile(t *testing.T) {
	cfg := &Config{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{path2}, path2},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
		{"first match wins", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = true\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithLocalRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"health exact", "/health"},
		{"health sub", "/health/metrics"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, "[metrics]\nenabled = true\npath = \""+tt.path+"\"\n")

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_ExampleConfigMatchesDefaults(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "config.example.toml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("example config not found: %v", err)
	}

	fromFile, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load(example) error = %v", err)
	}
	defaults, err := Load(cliWithPath(writeConfig(t, "# empty\n")))
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}

	fromFile.filePath, defaults.filePath = "", ""
	if *fromFile != *defaults {
		t.Errorf("example config = %+v, want defaults %+v", *fromFile, *defaults)
	}
}
