/*
Package config loads server configuration.

Configuration is loaded from:
  1. config.yaml file (optional)
  2. Environment variables, prefixed COURSESALES_ (e.g. COURSESALES_SERVER_PORT)
  3. Default values

Every knob has a working default so the server runs with no config at all.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JobsConfig tunes the queue scheduler.
type JobsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ReconcileConfig tunes provider reconciliation.
type ReconcileConfig struct {
	// Attempts and Delay bound the per-item retry against each provider.
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`

	// CancelGrace is how long a cancelled standing order keeps course and
	// group access before finalization.
	CancelGrace time.Duration `mapstructure:"cancel_grace"`
}

// Load reads configuration from the given directory (or the working directory
// when empty), applying env overrides on top of file values on top of defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COURSESALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "coursesales.db")

	v.SetDefault("jobs.poll_interval", 30*time.Second)

	v.SetDefault("reconcile.attempts", 3)
	v.SetDefault("reconcile.delay", 250*time.Millisecond)
	v.SetDefault("reconcile.cancel_grace", 30*24*time.Hour)
}
