// services/archiver/internal/storage/postgres/config.go
package postgres

import (
	"fmt"
	"time"
)

// Config describes the event store connection.
type Config struct {
	DSN             string        `mapstructure:"dsn" json:"-"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn must be provided")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("postgres: min_conns must be ≤ max_conns")
	}
	return nil
}
