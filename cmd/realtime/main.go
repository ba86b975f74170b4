package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/Prismer-AI/realtime"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.realtime/config.toml.
type Config struct {
	Connection ConfigConnection `toml:"connection"`
	Heartbeat  ConfigHeartbeat  `toml:"heartbeat"`
	Reconnect  ConfigReconnect  `toml:"reconnect"`
	Auth       ConfigAuth       `toml:"auth"`
}

// ConfigConnection holds the endpoint and transport settings.
type ConfigConnection struct {
	Endpoint     string   `toml:"endpoint"`
	SubProtocols []string `toml:"subprotocols,omitempty"`
	Transport    string   `toml:"transport,omitempty"`
	QueueLimit   int      `toml:"queue_limit,omitempty"`
}

// ConfigHeartbeat holds liveness settings in milliseconds.
type ConfigHeartbeat struct {
	IntervalMS    int `toml:"interval_ms"`
	PongTimeoutMS int `toml:"pong_timeout_ms,omitempty"`
}

// ConfigReconnect holds the backoff policy.
type ConfigReconnect struct {
	Disabled    bool `toml:"disabled,omitempty"`
	BaseDelayMS int  `toml:"base_delay_ms,omitempty"`
	MaxDelayMS  int  `toml:"max_delay_ms,omitempty"`
	MaxAttempts int  `toml:"max_attempts,omitempty"`
}

// ConfigAuth holds the bearer token sent on the upgrade request.
type ConfigAuth struct {
	Token string `toml:"token,omitempty"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.realtime, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".realtime")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file, honoring --config.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "heartbeat.interval_ms").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. connection.endpoint)")
	}
	section, field := parts[0], parts[1]

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer: %w", key, err)
		}
		return n, nil
	}

	var err error
	switch section {
	case "connection":
		switch field {
		case "endpoint":
			cfg.Connection.Endpoint = value
		case "subprotocols":
			cfg.Connection.SubProtocols = splitList(value)
		case "transport":
			if value != "nhooyr" && value != "gorilla" {
				return fmt.Errorf("transport must be nhooyr or gorilla")
			}
			cfg.Connection.Transport = value
		case "queue_limit":
			cfg.Connection.QueueLimit, err = atoi()
		default:
			return fmt.Errorf("unknown field %q in section [connection]", field)
		}
	case "heartbeat":
		switch field {
		case "interval_ms":
			cfg.Heartbeat.IntervalMS, err = atoi()
		case "pong_timeout_ms":
			cfg.Heartbeat.PongTimeoutMS, err = atoi()
		default:
			return fmt.Errorf("unknown field %q in section [heartbeat]", field)
		}
	case "reconnect":
		switch field {
		case "disabled":
			cfg.Reconnect.Disabled, err = strconv.ParseBool(value)
		case "base_delay_ms":
			cfg.Reconnect.BaseDelayMS, err = atoi()
		case "max_delay_ms":
			cfg.Reconnect.MaxDelayMS, err = atoi()
		case "max_attempts":
			cfg.Reconnect.MaxAttempts, err = atoi()
		default:
			return fmt.Errorf("unknown field %q in section [reconnect]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: connection, heartbeat, reconnect, auth)", section)
	}
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// clientConfig converts the file config into a realtime.Config.
func (c *Config) clientConfig() realtime.Config {
	cfg := realtime.NewConfig(c.Connection.Endpoint)
	cfg.SubProtocols = c.Connection.SubProtocols
	cfg.QueueLimit = c.Connection.QueueLimit
	if c.Heartbeat.IntervalMS != 0 {
		cfg.HeartbeatInterval = ms(c.Heartbeat.IntervalMS)
	}
	cfg.PongTimeout = ms(c.Heartbeat.PongTimeoutMS)
	cfg.ReconnectEnabled = !c.Reconnect.Disabled
	cfg.Reconnect.BaseDelay = ms(c.Reconnect.BaseDelayMS)
	cfg.Reconnect.MaxDelay = ms(c.Reconnect.MaxDelayMS)
	if c.Reconnect.MaxAttempts != 0 {
		cfg.Reconnect.MaxAttempts = c.Reconnect.MaxAttempts
	}
	return cfg
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ============================================================================
// Root command
// ============================================================================

var (
	configFile string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "realtime",
	Short:        "Realtime websocket client CLI",
	Long:         "Command-line interface for the realtime websocket client.\nStore an endpoint, listen for events, send messages and check connectivity.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.realtime/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output: text, json or zap")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
