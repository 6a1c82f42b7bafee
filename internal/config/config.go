// Package config loads and saves the fapctl TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the system-wide configuration file
const DefaultPath = "/etc/fapctl/fapctl.toml"

// Service configures the systemd unit under control.
type Service struct {
	Name           string `toml:"name"`
	SystemctlPath  string `toml:"systemctl_path"`
	UseSudo        bool   `toml:"use_sudo"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// Mode is the controller mode at startup: disabled, online
	Mode string `toml:"mode"`
}

// Profiling configures sessions and the profiling daemon.
type Profiling struct {
	// LogDir receives timestamped target stdout/stderr logs
	LogDir           string   `toml:"log_dir"`
	StartupDelayMS   int      `toml:"startup_delay_ms"`
	StopGraceSeconds int      `toml:"stop_grace_seconds"`
	DaemonCommand    []string `toml:"daemon_command"`
	LockPath         string   `toml:"lock_path"`
}

// Watch configures daemon status watching.
type Watch struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	WakePath        string `toml:"wake_path"`
}

// Logging configures the command's logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Config is the complete fapctl configuration.
type Config struct {
	Service   Service   `toml:"service"`
	Profiling Profiling `toml:"profiling"`
	Watch     Watch     `toml:"watch"`
	Logging   Logging   `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: Service{
			Name:           "fapolicyd",
			SystemctlPath:  "systemctl",
			UseSudo:        os.Geteuid() != 0,
			TimeoutSeconds: 10,
			Mode:           "online",
		},
		Profiling: Profiling{
			LogDir:           "/var/tmp",
			StartupDelayMS:   0,
			StopGraceSeconds: 0,
			DaemonCommand:    []string{"/usr/sbin/fapolicyd", "--debug", "--permissive", "--no-details"},
			LockPath:         "/run/fapctl.lock",
		},
		Watch: Watch{
			IntervalSeconds: 5,
			WakePath:        "",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults and
// exists=false.
func Load(path string) (*Config, bool, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config: %w", err)
	}

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, true, err
	}
	return &cfg, true, nil
}

// Save writes the configuration atomically.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Service.Name = strings.TrimSuffix(strings.TrimSpace(c.Service.Name), ".service")
	c.Service.Mode = strings.ToLower(strings.TrimSpace(c.Service.Mode))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name must be set")
	}
	if c.Service.TimeoutSeconds < 0 {
		return errors.New("service.timeout_seconds must not be negative")
	}
	switch c.Service.Mode {
	case "disabled", "online":
	default:
		return fmt.Errorf("service.mode must be disabled or online, got %q", c.Service.Mode)
	}
	if c.Profiling.StartupDelayMS < 0 {
		return errors.New("profiling.startup_delay_ms must not be negative")
	}
	if c.Profiling.StopGraceSeconds < 0 {
		return errors.New("profiling.stop_grace_seconds must not be negative")
	}
	if c.Watch.IntervalSeconds <= 0 {
		return errors.New("watch.interval_seconds must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// ServiceTimeout returns the per-call systemctl timeout.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}

// StartupDelay returns the delay before each target spawn.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Profiling.StartupDelayMS) * time.Millisecond
}

// StopGrace returns how long a stopping target gets before SIGKILL.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Profiling.StopGraceSeconds) * time.Second
}

// WatchInterval returns the status poll interval.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}
