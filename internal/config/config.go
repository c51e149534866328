// Package config loads service configuration from flags, the environment, an
// optional .env file, an optional YAML file and struct defaults, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port" default:"8080"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout" default:"10s"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout" default:"10s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" default:"15s"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// DatabaseConfig configures the contact store.
type DatabaseConfig struct {
	// URL is a postgres:// URL or a SQLite file path.
	URL          string        `mapstructure:"url" default:"./contacts.db"`
	MaxOpenConns int           `mapstructure:"max-open-conns" default:"10"`
	BusyTimeout  time.Duration `mapstructure:"busy-timeout" default:"5s"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"json"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.read-timeout":     "SERVER_READ_TIMEOUT",
	"server.write-timeout":    "SERVER_WRITE_TIMEOUT",
	"server.shutdown-timeout": "SERVER_SHUTDOWN_TIMEOUT",
	"database.url":            "DATABASE_URL",
	"database.max-open-conns": "DATABASE_MAX_OPEN_CONNS",
	"database.busy-timeout":   "DATABASE_BUSY_TIMEOUT",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

// flagBindings maps command-line flag names to config keys.
var flagBindings = map[string]string{
	"port":         "server.port",
	"database-url": "database.url",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// Options selects the sources Load reads beyond the environment.
type Options struct {
	// File is an optional YAML config file.
	File string
	// EnvFiles are dotenv files to load; missing files are skipped.
	EnvFiles []string
	// Flags, when set, override every other source for flags the user set.
	Flags *pflag.FlagSet
}

// Load builds a Config from all sources.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overrides variables already set
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "load env file %s", f)
		}
	}

	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrapf(err, "bind env %s", env)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file failed")
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.Visit(func(f *pflag.Flag) {
			if key, ok := flagBindings[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return nil, errors.Wrap(bindErr, "bind flags")
		}
	}

	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "set default config failed")
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url must not be empty")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}
