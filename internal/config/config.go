// Package config loads configuration from defaults, an optional TOML file,
// and OFS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "30s" in the config file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds client and reference server configuration.
type Config struct {
	// Client
	Endpoint          string   `toml:"endpoint"`
	CallTimeout       Duration `toml:"call_timeout"`
	SaveRetryAttempts int      `toml:"save_retry_attempts"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Devserver DevserverConfig `toml:"devserver"`
}

// DevserverConfig configures the reference server.
type DevserverConfig struct {
	ListenAddr    string   `toml:"listen_addr"`
	TCPAddr       string   `toml:"tcp_addr"` // empty disables the line listener
	JWTSecret     string   `toml:"jwt_secret"`
	SessionTTL    Duration `toml:"session_ttl"`
	AdminUser     string   `toml:"admin_user"`
	AdminPassword string   `toml:"admin_password"` // empty creates no admin
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint:          "http://localhost:8080/api",
		CallTimeout:       Duration{30 * time.Second},
		SaveRetryAttempts: 3,
		LogLevel:          "info",
		LogFormat:         "console",
		Devserver: DevserverConfig{
			ListenAddr: ":8080",
			SessionTTL: Duration{30 * time.Minute},
			AdminUser:  "admin",
		},
	}
}

// ConfigDir returns the config directory path.
// Resolution order: $OFS_CONFIG_DIR > $XDG_CONFIG_HOME/file-verse > ~/.config/file-verse
func ConfigDir() string {
	if dir := os.Getenv("OFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "file-verse")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "file-verse-config")
	}
	return filepath.Join(home, ".config", "file-verse")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load builds the configuration. An empty path reads ConfigPath if it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Endpoint = envOr("OFS_ENDPOINT", c.Endpoint)
	c.CallTimeout.Duration = envDuration("OFS_CALL_TIMEOUT", c.CallTimeout.Duration)
	c.SaveRetryAttempts = envInt("OFS_SAVE_RETRY_ATTEMPTS", c.SaveRetryAttempts)
	c.LogLevel = envOr("OFS_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("OFS_LOG_FORMAT", c.LogFormat)

	d := &c.Devserver
	d.ListenAddr = envOr("OFS_DEVSERVER_ADDR", d.ListenAddr)
	d.TCPAddr = envOr("OFS_DEVSERVER_TCP_ADDR", d.TCPAddr)
	d.JWTSecret = envOr("OFS_JWT_SECRET", d.JWTSecret)
	d.SessionTTL.Duration = envDuration("OFS_SESSION_TTL", d.SessionTTL.Duration)
	d.AdminUser = envOr("OFS_ADMIN_USER", d.AdminUser)
	d.AdminPassword = envOr("OFS_ADMIN_PASSWORD", d.AdminPassword)
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss", "tcp":
	default:
		return fmt.Errorf("endpoint %q: scheme must be http, https, ws, wss or tcp", c.Endpoint)
	}
	if c.SaveRetryAttempts < 1 {
		return fmt.Errorf("save_retry_attempts must be at least 1, got %d", c.SaveRetryAttempts)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.Devserver.SessionTTL.Duration <= 0 {
		return fmt.Errorf("devserver.session_ttl must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
