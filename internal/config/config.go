package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	LogLevel            string        `mapstructure:"log_level"`
	LogConsole          bool          `mapstructure:"log_console"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	SendBufferSize      int           `mapstructure:"send_buffer_size"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Store               StoreConfig   `mapstructure:"store"`
}

// AdminConfig describes the operational HTTP endpoint (metrics, health, provisioning).
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// StoreConfig describes where the chat store keeps its data.
type StoreConfig struct {
	Path     string `mapstructure:"path"`
	SeedDemo bool   `mapstructure:"seed_demo"`
}

const (
	defaultListenAddress       = "0.0.0.0:8000"
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultSendBufferSize      = 32
	defaultStorePath           = "data/chat.db"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHATRELAY_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATRELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_console", false)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("send_buffer_size", defaultSendBufferSize)
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("store.path", defaultStorePath)
	v.SetDefault("store.seed_demo", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	var err error
	if cfg.ShutdownGracePeriod, err = parseDuration(v, "shutdown_grace_period", defaultShutdownGracePeriod); err != nil {
		return Config{}, err
	}
	if cfg.Admin.ReadHeaderTimeout, err = parseDuration(v, "admin.read_header_timeout", defaultReadHeaderTimeout); err != nil {
		return Config{}, err
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	if !v.IsSet(key) {
		return fallback, nil
	}
	dur, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}
