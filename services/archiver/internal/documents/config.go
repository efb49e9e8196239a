// services/archiver/internal/documents/config.go
package documents

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/redis"
)

// History backends.
const (
	HistoryFile  = "file"
	HistoryRedis = "redis"
)

// Config controls where documents go and how they are fetched.
type Config struct {
	OutputDir      string         `mapstructure:"output_dir"`
	Workers        int            `mapstructure:"workers"`
	HistoryBackend string         `mapstructure:"history_backend"`
	HistoryFile    string         `mapstructure:"history_file"`
	HistoryKey     string         `mapstructure:"history_key"`
	Redis          redis.Config   `mapstructure:"redis"`
	HTTPTimeout    time.Duration  `mapstructure:"http_timeout"`
	Fetch          backoff.Config `mapstructure:"fetch_backoff"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "archive"
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.HistoryBackend == "" {
		c.HistoryBackend = HistoryFile
	}
	if c.HistoryFile == "" {
		c.HistoryFile = filepath.Join(c.OutputDir, ".download_history")
	}
	if c.HistoryKey == "" {
		c.HistoryKey = "archiver:history"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = 3
	}
}

// Validate checks the config after defaults were applied.
func (c Config) Validate() error {
	var errs []string
	switch c.HistoryBackend {
	case HistoryFile:
	case HistoryRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis history backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown history_backend %q", c.HistoryBackend))
	}
	if c.Workers > 64 {
		errs = append(errs, "workers must be ≤ 64")
	}
	if len(errs) > 0 {
		return fmt.Errorf("documents: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
