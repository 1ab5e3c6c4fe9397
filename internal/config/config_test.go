package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gorip/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.API.Addr != ":8521" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":8521")
	}

	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9101")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Timers.Update != 30*time.Second {
		t.Errorf("Timers.Update = %v, want %v", cfg.Timers.Update, 30*time.Second)
	}

	if cfg.Timers.Timeout != 180*time.Second {
		t.Errorf("Timers.Timeout = %v, want %v", cfg.Timers.Timeout, 180*time.Second)
	}

	if cfg.Timers.GarbageCollect != 120*time.Second {
		t.Errorf("Timers.GarbageCollect = %v, want %v", cfg.Timers.GarbageCollect, 120*time.Second)
	}

	if cfg.GoBGP.Addr != "127.0.0.1:50051" {
		t.Errorf("GoBGP.Addr = %q, want %q", cfg.GoBGP.Addr, "127.0.0.1:50051")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
timers:
  update: "10s"
  timeout: "60s"
  garbage_collect: "30s"
interfaces:
  - name: eth0
    version: 2
    split_horizon: poison_reverse
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != ":60000" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Timers.Update != 10*time.Second {
		t.Errorf("Timers.Update = %v, want %v", cfg.Timers.Update, 10*time.Second)
	}

	if len(cfg.Interfaces) != 1 {
		t.Fatalf("Interfaces count = %d, want 1", len(cfg.Interfaces))
	}

	if cfg.Interfaces[0].Name != "eth0" {
		t.Errorf("Interfaces[0].Name = %q, want %q", cfg.Interfaces[0].Name, "eth0")
	}

	if cfg.Interfaces[0].SplitHorizon != "poison_reverse" {
		t.Errorf("Interfaces[0].SplitHorizon = %q, want %q", cfg.Interfaces[0].SplitHorizon, "poison_reverse")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override api.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
api:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.API.Addr != ":55555" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9101")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Timers.Update != 30*time.Second {
		t.Errorf("Timers.Update = %v, want default %v", cfg.Timers.Update, 30*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty api addr",
			modify: func(cfg *config.Config) {
				cfg.API.Addr = ""
			},
			wantErr: config.ErrEmptyAPIAddr,
		},
		{
			name: "zero update interval",
			modify: func(cfg *config.Config) {
				cfg.Timers.Update = 0
			},
			wantErr: config.ErrInvalidUpdateInterval,
		},
		{
			name: "negative timeout",
			modify: func(cfg *config.Config) {
				cfg.Timers.Timeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name: "zero garbage collect",
			modify: func(cfg *config.Config) {
				cfg.Timers.GarbageCollect = 0
			},
			wantErr: config.ErrInvalidGarbage,
		},
		{
			name: "empty interface name",
			modify: func(cfg *config.Config) {
				cfg.Interfaces = []config.InterfaceConfig{{Name: ""}}
			},
			wantErr: config.ErrEmptyInterfaceName,
		},
		{
			name: "invalid interface version",
			modify: func(cfg *config.Config) {
				cfg.Interfaces = []config.InterfaceConfig{{Name: "eth0", Version: 3}}
			},
			wantErr: config.ErrInvalidVersion,
		},
		{
			name: "invalid split horizon",
			modify: func(cfg *config.Config) {
				cfg.Interfaces = []config.InterfaceConfig{{Name: "eth0", SplitHorizon: "bogus"}}
			},
			wantErr: config.ErrInvalidSplitHorizon,
		},
		{
			name: "invalid auth scheme",
			modify: func(cfg *config.Config) {
				cfg.Interfaces = []config.InterfaceConfig{{Name: "eth0", AuthScheme: "bogus"}}
			},
			wantErr: config.ErrInvalidAuthScheme,
		},
		{
			name: "duplicate interface name",
			modify: func(cfg *config.Config) {
				cfg.Interfaces = []config.InterfaceConfig{
					{Name: "eth0"},
					{Name: "eth0"},
				}
			},
			wantErr: config.ErrDuplicateInterface,
		},
		{
			name: "invalid redistribute protocol",
			modify: func(cfg *config.Config) {
				cfg.Redistribute = []config.RedistributeConfig{{Protocol: "bogus"}}
			},
			wantErr: config.ErrInvalidRedistribute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadWithInterfaces(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":8521"
interfaces:
  - name: eth0
    version: 2
    metric_offset: 1
    multicast: true
    split_horizon: simple
  - name: eth1
    version: 1
    passive: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Interfaces) != 2 {
		t.Fatalf("Interfaces count = %d, want 2", len(cfg.Interfaces))
	}

	i0 := cfg.Interfaces[0]
	if i0.Name != "eth0" {
		t.Errorf("Interfaces[0].Name = %q, want %q", i0.Name, "eth0")
	}

	if i0.Version != 2 {
		t.Errorf("Interfaces[0].Version = %d, want 2", i0.Version)
	}

	if i0.MetricOffset != 1 {
		t.Errorf("Interfaces[0].MetricOffset = %d, want 1", i0.MetricOffset)
	}

	if !i0.Multicast {
		t.Error("Interfaces[0].Multicast = false, want true")
	}

	i1 := cfg.Interfaces[1]
	if !i1.Passive {
		t.Error("Interfaces[1].Passive = false, want true")
	}
}

func TestLoadWithRedistribute(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":8521"
redistribute:
  - protocol: connected
  - protocol: bgp
    metric: 3
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Redistribute) != 2 {
		t.Fatalf("Redistribute count = %d, want 2", len(cfg.Redistribute))
	}

	if cfg.Redistribute[0].Protocol != "connected" {
		t.Errorf("Redistribute[0].Protocol = %q, want %q", cfg.Redistribute[0].Protocol, "connected")
	}

	if cfg.Redistribute[1].Protocol != "bgp" {
		t.Errorf("Redistribute[1].Protocol = %q, want %q", cfg.Redistribute[1].Protocol, "bgp")
	}

	if cfg.Redistribute[1].Metric == nil || *cfg.Redistribute[1].Metric != 3 {
		t.Errorf("Redistribute[1].Metric = %v, want 3", cfg.Redistribute[1].Metric)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
api:
  addr: ":8521"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RIPD_API_ADDR", ":60000")
	t.Setenv("RIPD_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != ":60000" {
		t.Errorf("API.Addr = %q, want %q (from env)", cfg.API.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
api:
  addr: ":8521"
metrics:
  addr: ":9101"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RIPD_METRICS_ADDR", ":9200")
	t.Setenv("RIPD_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ripd.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
