package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.camsync/config.toml.
type Config struct {
	Device  ConfigDevice  `toml:"device"`
	Log     ConfigLog     `toml:"log"`
	MQTT    ConfigMQTT    `toml:"mqtt"`
	Metrics ConfigMetrics `toml:"metrics"`
}

// ConfigDevice is the camera the CLI talks to.
type ConfigDevice struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type ConfigLog struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// ConfigMQTT holds the optional mirror broker used by `watch`.
type ConfigMQTT struct {
	Broker      string `toml:"broker"`
	TopicPrefix string `toml:"topic_prefix"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

type ConfigMetrics struct {
	Addr string `toml:"addr"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.camsync, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".camsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// statePath is where the session persists its target, push token and preferences.
func statePath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.toml"), nil
}

// loadConfig reads and parses the config file, then applies environment overrides.
// If the file does not exist, it starts from a zero-value Config.
func loadConfig() (*Config, error) {
	cfg, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func readConfigFile() (*Config, error) {
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

// applyEnv lets CAMSYNC_HOST, CAMSYNC_PORT and CAMSYNC_LOG_LEVEL win over the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CAMSYNC_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("CAMSYNC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = n
		}
	}
	if v := os.Getenv("CAMSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
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

// setConfigValue sets a config field using dot notation (e.g. "device.host").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. device.host)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "device":
		switch field {
		case "host":
			cfg.Device.Host = value
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("invalid port %q", value)
			}
			cfg.Device.Port = n
		default:
			return fmt.Errorf("unknown field %q in section [device]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "pretty":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid bool %q", value)
			}
			cfg.Log.Pretty = b
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	case "mqtt":
		switch field {
		case "broker":
			cfg.MQTT.Broker = value
		case "topic_prefix":
			cfg.MQTT.TopicPrefix = value
		case "client_id":
			cfg.MQTT.ClientID = value
		case "username":
			cfg.MQTT.Username = value
		case "password":
			cfg.MQTT.Password = value
		default:
			return fmt.Errorf("unknown field %q in section [mqtt]", field)
		}
	case "metrics":
		switch field {
		case "addr":
			cfg.Metrics.Addr = value
		default:
			return fmt.Errorf("unknown field %q in section [metrics]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: device, log, mqtt, metrics)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "camsync",
	Short: "Camera live state CLI",
	Long:  "Command-line interface for a networked camera.\nResolve the device, follow its live state, and browse events and recordings.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is fine.
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
