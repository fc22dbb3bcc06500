package session

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds tunables for a session. Zero values fall back to defaults
// via withDefaults.
type Config struct {
	// Workers is the size of the deferred-operation worker pool.
	Workers int `toml:"workers"`

	// QueueDepth bounds the dispatcher's task and completion queues.
	QueueDepth int `toml:"queue_depth"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		QueueDepth: 64,
		LogLevel:   "info",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers < 1 {
		c.Workers = def.Workers
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = def.QueueDepth
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

// LoadConfig reads a TOML config file. A missing file is not an error:
// it returns DefaultConfig.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}
