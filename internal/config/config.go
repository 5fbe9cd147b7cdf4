// Package config loads the YAML or TOML files read by the command-line
// tools. ${VAR} references are expanded from the environment before
// parsing and duration strings such as "250ms" are accepted.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thejuampi/nats-client-go/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config is the file layout shared by natsctl and fakenats.
type Config struct {
	Client  ClientConfig  `yaml:"client" toml:"client"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ClientConfig configures a nats.Client.
type ClientConfig struct {
	URI               string `yaml:"uri" toml:"uri"`
	Name              string `yaml:"name" toml:"name"`
	Verbose           bool   `yaml:"verbose" toml:"verbose"`
	Pedantic          bool   `yaml:"pedantic" toml:"pedantic"`
	ReconnectAttempts int    `yaml:"reconnect_attempts" toml:"reconnect_attempts"`
	Dispatch          string `yaml:"dispatch" toml:"dispatch"`

	ReconnectTime  time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout time.Duration `yaml:"-" toml:"-"`

	ReconnectTimeRaw  string `yaml:"reconnect_time" toml:"reconnect_time"`
	ConnectTimeoutRaw string `yaml:"connect_timeout" toml:"connect_timeout"`
}

// ServerConfig configures the fake server.
type ServerConfig struct {
	Addr          string `yaml:"addr" toml:"addr"`
	WebsocketAddr string `yaml:"websocket_addr" toml:"websocket_addr"`
	MaxPayload    int    `yaml:"max_payload" toml:"max_payload"`
	User          string `yaml:"user" toml:"user"`
	Pass          string `yaml:"pass" toml:"pass"`
	Trace         bool   `yaml:"trace" toml:"trace"`
}

// LoggingConfig selects the console log level.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
	Path string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			URI:               "nats://127.0.0.1:4222",
			ReconnectAttempts: 10,
			ReconnectTime:     2 * time.Second,
			ConnectTimeout:    5 * time.Second,
			Dispatch:          "ordered",
		},
		Server: ServerConfig{
			Addr:       "127.0.0.1:4222",
			MaxPayload: 1 << 20,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Load reads path, choosing the decoder by extension (.yaml, .yml or
// .toml). Fields missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or with an empty
// string when it is unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Client.ReconnectTimeRaw != "" {
		cfg.Client.ReconnectTime, err = time.ParseDuration(cfg.Client.ReconnectTimeRaw)
		if err != nil {
			return fmt.Errorf("parsing client.reconnect_time %q: %w", cfg.Client.ReconnectTimeRaw, err)
		}
	}
	if cfg.Client.ConnectTimeoutRaw != "" {
		cfg.Client.ConnectTimeout, err = time.ParseDuration(cfg.Client.ConnectTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing client.connect_timeout %q: %w", cfg.Client.ConnectTimeoutRaw, err)
		}
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Client.ReconnectAttempts < 0 {
		return fmt.Errorf("client.reconnect_attempts must not be negative")
	}
	if c.Client.ReconnectTime < 0 {
		return fmt.Errorf("client.reconnect_time must not be negative")
	}
	if c.Client.ConnectTimeout < 0 {
		return fmt.Errorf("client.connect_timeout must not be negative")
	}
	switch c.Client.Dispatch {
	case "", "ordered", "concurrent":
	default:
		return fmt.Errorf("client.dispatch must be ordered or concurrent, got %q", c.Client.Dispatch)
	}
	if c.Server.MaxPayload < 0 {
		return fmt.Errorf("server.max_payload must not be negative")
	}
	if c.Server.Pass != "" && c.Server.User == "" {
		return fmt.Errorf("server.user is required when server.pass is set")
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
