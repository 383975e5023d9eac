// Package config loads runtime configuration from a config file, environment
// variables, and flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	Database Database `mapstructure:"database"`

	// WorkspaceRoot is the directory the local environment resolves
	// relative paths against.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// AsyncResultTimeout bounds how long an execution task waits for an
	// externally delivered result.
	AsyncResultTimeout time.Duration `mapstructure:"async_result_timeout"`

	LogLevel string `mapstructure:"log_level"`
	LogDev   bool   `mapstructure:"log_dev"`
}

// Database selects the storage backend.
type Database struct {
	// Driver is "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Load reads configuration from the given file (optional), CODEMYSPEC_*
// environment variables, and defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CODEMYSPEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "codemyspec.db")
	v.SetDefault("workspace_root", ".")
	v.SetDefault("async_result_timeout", 30*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.AsyncResultTimeout <= 0 {
		return fmt.Errorf("async_result_timeout must be positive")
	}
	return nil
}
