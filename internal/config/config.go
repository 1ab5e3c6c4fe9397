// Package config manages the gorip daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gorip configuration.
type Config struct {
	API          APIConfig            `koanf:"api"`
	Metrics      MetricsConfig        `koanf:"metrics"`
	Log          LogConfig            `koanf:"log"`
	Timers       TimersConfig         `koanf:"timers"`
	Interfaces   []InterfaceConfig    `koanf:"interfaces"`
	Redistribute []RedistributeConfig `koanf:"redistribute"`
	GoBGP        GoBGPConfig          `koanf:"gobgp"`
}

// APIConfig holds the plain HTTP inspection/control server configuration
// that replaces a generated-RPC transport (see internal/server).
type APIConfig struct {
	// Addr is the HTTP listen address (e.g., ":8521").
	Addr string `koanf:"addr"`
}

// GoBGPConfig holds the connection settings for the GoBGP gRPC API used
// by the "bgp" redistribute source (see internal/redistribute).
type GoBGPConfig struct {
	Enabled bool `koanf:"enabled"`

	// Addr is the GoBGPd gRPC API address (e.g., "127.0.0.1:50051").
	Addr string `koanf:"addr"`

	// PollInterval is how often the redistribution source polls
	// GoBGP's RIB for changes.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TimersConfig holds the RIP protocol timers (RFC 2453 Section 3.8). They
// apply daemon-wide; InterfaceConfig has no timer settings. The daemon
// applies Timeout and GarbageCollect to the route database; Update,
// TriggeredMinDelay and TriggeredMaxDelay are loaded but not applied, so
// the update engine always runs with internal/rip's built-in defaults.
type TimersConfig struct {
	// Update is the periodic full-table update interval.
	Update time.Duration `koanf:"update"`

	// Timeout is how long a route is held after its last refresh before
	// being marked unreachable.
	Timeout time.Duration `koanf:"timeout"`

	// GarbageCollect is how long an unreachable route is kept
	// (advertised with metric 16) before deletion.
	GarbageCollect time.Duration `koanf:"garbage_collect"`

	// TriggeredMinDelay/TriggeredMaxDelay bound the random delay before
	// a triggered update is sent (RFC 2453 Section 3.10.1).
	TriggeredMinDelay time.Duration `koanf:"triggered_min_delay"`
	TriggeredMaxDelay time.Duration `koanf:"triggered_max_delay"`
}

// InterfaceConfig describes one RIP-speaking interface from the
// configuration file.
type InterfaceConfig struct {
	Name string `koanf:"name"`

	// Version is 1, 2, or 0 to accept either on receive while sending
	// Version.
	Version int `koanf:"version"`

	// MetricOffset is added to routes learned on this interface
	// (RFC 2453 Section 3.4).
	MetricOffset uint8 `koanf:"metric_offset"`

	Passive   bool `koanf:"passive"`
	Multicast bool `koanf:"multicast"`

	SplitHorizon string `koanf:"split_horizon"` // "off", "simple", "poison_reverse"

	AuthScheme string     `koanf:"auth_scheme"` // see ValidAuthSchemes
	AuthKeys   []KeyConfig `koanf:"auth_keys"`
}

// KeyConfig is one authentication key entry, optionally bounded by
// send/accept validity windows for key rotation.
type KeyConfig struct {
	ID           uint8  `koanf:"id"`
	Secret       string `koanf:"secret"`
	AcceptAfter  string `koanf:"accept_after"`
	AcceptBefore string `koanf:"accept_before"`
	SendAfter    string `koanf:"send_after"`
	SendBefore   string `koanf:"send_before"`
}

// RedistributeConfig describes a non-RIP route source to import into the
// RIP route database (supplemented from the original implementation's
// redistribute configuration block). Entries are loaded and validated,
// but the daemon does not read them: route import runs only through the
// GoBGP source enabled by GoBGPConfig, which uses a fixed metric of 1, and
// the "connected" and "static" protocols have no import path.
type RedistributeConfig struct {
	// Protocol names the source: "connected", "static", or "bgp".
	Protocol string `koanf:"protocol"`

	// Metric is the RIP metric assigned to imported routes, overriding
	// whatever the source protocol reports.
	Metric *uint8 `koanf:"metric"`

	// RouteMap optionally names a policy collaborator applied before
	// import (see internal/rip.RouteMap); resolved by the daemon
	// entrypoint, not by this package.
	RouteMap string `koanf:"route_map"`
}

// InterfaceAddr parses Name's configured address, when Name itself looks
// like a CIDR literal used in tests; production configs resolve the
// address from the live interface instead. Retained for completeness of
// the config-to-domain mapping.
func (ic InterfaceConfig) InterfaceAddr() (netip.Prefix, error) {
	if ic.Name == "" {
		return netip.Prefix{}, fmt.Errorf("interface name: %w", ErrEmptyInterfaceName)
	}

	if p, err := netip.ParsePrefix(ic.Name); err == nil {
		return p, nil
	}

	return netip.Prefix{}, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults
// matching the timer values of RFC 2453 Section 3.8.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":8521",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Timers: TimersConfig{
			Update:            30 * time.Second,
			Timeout:           180 * time.Second,
			GarbageCollect:    120 * time.Second,
			TriggeredMinDelay: 1 * time.Second,
			TriggeredMaxDelay: 5 * time.Second,
		},
		GoBGP: GoBGPConfig{
			Enabled:      false,
			Addr:         "127.0.0.1:50051",
			PollInterval: 10 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gorip configuration.
// Variables are named RIPD_<section>_<key>, e.g., RIPD_API_ADDR.
const envPrefix = "RIPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RIPD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RIPD_API_ADDR -> api.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)

	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":                    defaults.API.Addr,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
		"timers.update":               defaults.Timers.Update.String(),
		"timers.timeout":              defaults.Timers.Timeout.String(),
		"timers.garbage_collect":      defaults.Timers.GarbageCollect.String(),
		"timers.triggered_min_delay":  defaults.Timers.TriggeredMinDelay.String(),
		"timers.triggered_max_delay":  defaults.Timers.TriggeredMaxDelay.String(),
		"gobgp.enabled":               defaults.GoBGP.Enabled,
		"gobgp.addr":                  defaults.GoBGP.Addr,
		"gobgp.poll_interval":         defaults.GoBGP.PollInterval.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyAPIAddr          = errors.New("api.addr must not be empty")
	ErrInvalidUpdateInterval = errors.New("timers.update must be > 0")
	ErrInvalidTimeout        = errors.New("timers.timeout must be > 0")
	ErrInvalidGarbage        = errors.New("timers.garbage_collect must be > 0")
	ErrEmptyInterfaceName    = errors.New("interface name must not be empty")
	ErrInvalidVersion        = errors.New("interface version must be 0, 1, or 2")
	ErrInvalidSplitHorizon   = errors.New("interface split_horizon must be off, simple, or poison_reverse")
	ErrInvalidAuthScheme     = errors.New("interface auth_scheme is not recognized")
	ErrDuplicateInterface    = errors.New("duplicate interface name")
	ErrInvalidRedistribute   = errors.New("redistribute protocol must be connected, static, or bgp")
)

// ValidSplitHorizonModes lists the recognized split_horizon strings.
var ValidSplitHorizonModes = map[string]bool{
	"off": true, "simple": true, "poison_reverse": true,
}

// ValidAuthSchemes lists the recognized auth_scheme strings (mirrors
// internal/ripauth.Scheme without importing it, keeping config free of
// a dependency on the protocol engine).
var ValidAuthSchemes = map[string]bool{
	"": true, "none": true, "plaintext": true, "keyed_md5": true,
	"hmac_sha1": true, "hmac_sha224": true, "hmac_sha256": true,
	"hmac_sha384": true, "hmac_sha512": true,
	"hmac_ripemd160": true, "hmac_whirlpool": true,
}

var validRedistributeProtocols = map[string]bool{
	"connected": true, "static": true, "bgp": true,
}

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if cfg.Timers.Update <= 0 {
		return ErrInvalidUpdateInterval
	}

	if cfg.Timers.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if cfg.Timers.GarbageCollect <= 0 {
		return ErrInvalidGarbage
	}

	if err := validateInterfaces(cfg.Interfaces); err != nil {
		return err
	}

	return validateRedistribute(cfg.Redistribute)
}

func validateInterfaces(ifaces []InterfaceConfig) error {
	seen := make(map[string]struct{}, len(ifaces))

	for i, ic := range ifaces {
		if ic.Name == "" {
			return fmt.Errorf("interfaces[%d]: %w", i, ErrEmptyInterfaceName)
		}

		if ic.Version < 0 || ic.Version > 2 {
			return fmt.Errorf("interfaces[%d]: %w", i, ErrInvalidVersion)
		}

		if ic.SplitHorizon != "" && !ValidSplitHorizonModes[ic.SplitHorizon] {
			return fmt.Errorf("interfaces[%d] split_horizon %q: %w", i, ic.SplitHorizon, ErrInvalidSplitHorizon)
		}

		if !ValidAuthSchemes[ic.AuthScheme] {
			return fmt.Errorf("interfaces[%d] auth_scheme %q: %w", i, ic.AuthScheme, ErrInvalidAuthScheme)
		}

		if _, dup := seen[ic.Name]; dup {
			return fmt.Errorf("interfaces[%d] name %q: %w", i, ic.Name, ErrDuplicateInterface)
		}

		seen[ic.Name] = struct{}{}
	}

	return nil
}

func validateRedistribute(entries []RedistributeConfig) error {
	for i, rc := range entries {
		if !validRedistributeProtocols[rc.Protocol] {
			return fmt.Errorf("redistribute[%d] protocol %q: %w", i, rc.Protocol, ErrInvalidRedistribute)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
