// Package config loads stratadb configuration from defaults, an
// optional YAML file, and STRATADB_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig configures the disk manager and buffer pool.
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	PoolSize int    `mapstructure:"pool_size"`
	LogFile  string `mapstructure:"log_file"` // relative paths resolve under DataDir
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:  "./data",
			PoolSize: 256,
			LogFile:  "db.log",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads configuration, layering an optional file and the
// environment over the built-in defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := defaults()
	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.pool_size", def.Storage.PoolSize)
	v.SetDefault("storage.log_file", def.Storage.LogFile)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.output", def.Log.Output)

	v.SetEnvPrefix("STRATADB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the storage core cannot run with.
func (c *Config) Validate() error {
	if c.Storage.PoolSize <= 0 {
		return fmt.Errorf("storage.pool_size must be positive, got %d", c.Storage.PoolSize)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	return nil
}

// LogPath returns the path of the append-only log file: LogFile itself
// when absolute, otherwise LogFile joined under DataDir.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.Storage.LogFile) {
		return c.Storage.LogFile
	}
	return filepath.Join(c.Storage.DataDir, c.Storage.LogFile)
}
