package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportEmbedded = "embedded"
	TransportProcess  = "process"
	TransportWS       = "ws"
	TransportFileBus  = "filebus"
)

// Config holds application configuration.
type Config struct {
	Log    LogConfig
	State  StateConfig
	Bridge BridgeConfig
	Host   HostConfig
}

type LogConfig struct {
	Level string
}

type StateConfig struct {
	Dir string
}

// BridgeConfig selects how the front-end reaches the host.
type BridgeConfig struct {
	Transport   string
	Timeout     time.Duration
	HostCommand []string `mapstructure:"host_command"`
	HostURL     string   `mapstructure:"host_url"`
	BusDir      string   `mapstructure:"bus_dir"`
}

type HostConfig struct {
	Listen         string
	DerivationPath string `mapstructure:"derivation_path"`
	Greet          bool
}

// Load reads configuration from file and env. Env var overrides use prefix
// KEYTOOL_. path, when set, wins over KEYTOOL_CONFIG.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("state.dir", ".keytool")
	v.SetDefault("bridge.transport", TransportEmbedded)
	v.SetDefault("bridge.timeout", "30s")
	v.SetDefault("bridge.host_command", []string{})
	v.SetDefault("bridge.host_url", "ws://127.0.0.1:7420/bridge")
	v.SetDefault("bridge.bus_dir", "")
	v.SetDefault("host.listen", "127.0.0.1:7420")
	v.SetDefault("host.derivation_path", "m/44'/60'/0'/0/0")
	v.SetDefault("host.greet", true)

	v.SetConfigType("toml")

	cfgPath := strings.TrimSpace(path)
	if cfgPath == "" {
		cfgPath = os.Getenv("KEYTOOL_CONFIG")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "keytool"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("KEYTOOL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicit one must exist.
		if cfgPath != "" {
			return Config{}, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if dir := os.Getenv("KEYTOOL_STATE_DIR"); strings.TrimSpace(dir) != "" {
		c.State.Dir = dir
	}
	if c.Bridge.BusDir == "" {
		c.Bridge.BusDir = filepath.Join(c.State.Dir, "bus")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Bridge.Transport {
	case TransportEmbedded, TransportProcess, TransportWS, TransportFileBus:
	default:
		return fmt.Errorf("config: unknown bridge.transport %q", c.Bridge.Transport)
	}
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("config: bridge.timeout must be positive")
	}
	return nil
}

func GetLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger returns a text logger writing to path, or to stderr when path is
// empty. The returned close func is never nil.
func NewLogger(level string, path string) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: GetLogLevel(level)}
	if strings.TrimSpace(path) == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), f.Close, nil
}
