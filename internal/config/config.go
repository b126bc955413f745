// Package config provides configuration loading for the Crucible daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the top-level daemon configuration, loaded from crucible.toml
// plus CRUCIBLE_* environment overrides.
type Config struct {
	Home         string             `toml:"home"`
	LogLevel     string             `toml:"log_level"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Bus          BusConfig          `toml:"bus"`
	Reactor      ReactorConfig      `toml:"reactor"`
	PluginIPC    PluginIPCConfig    `toml:"ipc"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
}

// OrchestratorConfig configures the service orchestrator (§4.D.1).
type OrchestratorConfig struct {
	HealthCheckInterval     Duration `toml:"health_check_interval"`
	StopGracePeriod         Duration `toml:"stop_grace_period"`
	MaxConcurrentProcessing int      `toml:"max_concurrent_processing"`
}

// BusConfig configures the event bus (§4.C.1).
type BusConfig struct {
	Transport string `toml:"transport"` // "inprocess" (default) or "nats"
	NatsURL   string `toml:"nats_url"`
}

// ReactorConfig configures default compaction thresholds for new sessions
// (§4.B); a session may override these at creation time.
type ReactorConfig struct {
	MaxTokens   int      `toml:"max_tokens"`
	MaxMessages int      `toml:"max_messages"`
	MaxEvents   int      `toml:"max_events"`
	MaxDuration Duration `toml:"max_duration"`
	SessionsDir string   `toml:"sessions_dir"`
}

// PluginIPCConfig configures the Plugin IPC Server (§4.D.2).
type PluginIPCConfig struct {
	Transport        string   `toml:"transport"` // "unix" (default), "tcp", or "tsnet"
	SocketPath       string   `toml:"socket_path"`
	TCPPortRangeLow  int      `toml:"tcp_port_range_low"`
	TCPPortRangeHigh int      `toml:"tcp_port_range_high"`
	MaxFrameBytes    int      `toml:"max_frame_bytes"`
	MaxSubscriptions int      `toml:"max_subscriptions"`
	MaxConnections   int      `toml:"max_connections"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	TsnetHostname    string   `toml:"tsnet_hostname"`
	TsnetStateDir    string   `toml:"tsnet_state_dir"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Duration wraps time.Duration so BurntSushi/toml can decode plain strings
// like "30s" via TOML's UnmarshalText hook.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config populated with the defaults named throughout
// §4 and §6 of the specification.
func Default() *Config {
	return &Config{
		Home:     defaultHome(),
		LogLevel: "info",
		Orchestrator: OrchestratorConfig{
			HealthCheckInterval:     Duration{30 * time.Second},
			StopGracePeriod:         Duration{10 * time.Second},
			MaxConcurrentProcessing: 50,
		},
		Bus: BusConfig{Transport: "inprocess"},
		Reactor: ReactorConfig{
			SessionsDir: "sessions",
		},
		PluginIPC: PluginIPCConfig{
			Transport:        "unix",
			SocketPath:       "crucible.sock",
			TCPPortRangeLow:  48900,
			TCPPortRangeHigh: 48999,
			MaxFrameBytes:    4 << 20,
			MaxSubscriptions: 256,
			MaxConnections:   128,
			IdleTimeout:      Duration{5 * time.Minute},
		},
	}
}

func defaultHome() string {
	if home, err := os.UserConfigDir(); err == nil {
		return filepath.Join(home, "crucible")
	}
	return ".crucible"
}

// Load reads crucible.toml at path (applying defaults for anything unset),
// then applies CRUCIBLE_* environment overrides. A .env file in the current
// directory, if present, is loaded first so it can seed those overrides —
// mirroring the daemon's own environment-loading convention.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRUCIBLE_HOME"); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv("CRUCIBLE_IPC_SOCKET"); v != "" {
		cfg.PluginIPC.SocketPath = v
	}
	if v := os.Getenv("CRUCIBLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// SessionsDir returns the absolute directory sessions are journaled under.
func (c *Config) SessionsDir() string {
	if filepath.IsAbs(c.Reactor.SessionsDir) {
		return c.Reactor.SessionsDir
	}
	return filepath.Join(c.Home, "sessions", c.Reactor.SessionsDir)
}

// SubscriptionsDir returns the directory persistent-subscription queues are
// spooled under. Each Persistent driver keeps one <subscription_id>.jsonl
// file directly in it; there is no per-subscription subdirectory and no
// file per pending event.
func (c *Config) SubscriptionsDir() string {
	return filepath.Join(c.Home, "subscriptions")
}

// AuditLogPath returns the path of the daemon-wide security audit log.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.Home, "audit.log")
}

// SocketPath returns the absolute Unix socket path the Plugin IPC server
// binds to.
func (c *Config) SocketPath() string {
	if filepath.IsAbs(c.PluginIPC.SocketPath) {
		return c.PluginIPC.SocketPath
	}
	return filepath.Join(c.Home, c.PluginIPC.SocketPath)
}
