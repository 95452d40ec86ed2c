// Package config loads shardkv settings from defaults, an optional YAML file,
// SHARDKV_* environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/dreamware/shardkv/internal/cluster"
	"github.com/dreamware/shardkv/internal/logging"
)

// EnvPrefix is prepended to every environment variable, e.g. SHARDKV_SHARDS
const EnvPrefix = "SHARDKV"

// Config is the complete process configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Shell   ShellConfig   `mapstructure:"shell"`
	Shards  int           `mapstructure:"shards"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type MetricsConfig struct {
	// Addr is the bind address of the Prometheus endpoint; empty disables it
	Addr string `mapstructure:"addr"`
}

type ShellConfig struct {
	HistoryFile string `mapstructure:"history-file"`
	Prompt      string `mapstructure:"prompt"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Shards: 8,
		Log: LogConfig{
			Level: logging.DefaultLogLevel.String(),
		},
		Shell: ShellConfig{
			Prompt: "shardkv> ",
		},
	}
}

// NewViper returns a viper instance seeded with the defaults and bound to the
// SHARDKV_ environment.
func NewViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetDefault("shards", d.Shards)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("shell.history-file", d.Shell.HistoryFile)
	v.SetDefault("shell.prompt", d.Shell.Prompt)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (if not empty) into v and decodes the merged configuration.
func Load(v *viper.Viper, file string) (Config, error) {
	var conf Config

	if file != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return conf, errors.Wrapf(err, "failed to read config file %s", file)
		}
	}

	if err := v.Unmarshal(&conf); err != nil {
		return conf, errors.Wrap(err, "failed to decode config")
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// Validate rejects configurations the cluster cannot start with
func (c Config) Validate() error {
	if c.Shards < 1 {
		return errors.Wrapf(cluster.ErrInvalidConfig, "shards must be at least 1, got %d", c.Shards)
	}
	if _, err := logging.ParseLogLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "invalid log.level")
	}
	return nil
}

// LogLevel returns the parsed log level, falling back to the default
func (c Config) LogLevel() slog.Level {
	level, err := logging.ParseLogLevel(c.Log.Level)
	if err != nil {
		return logging.DefaultLogLevel
	}
	return level
}
