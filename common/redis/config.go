// common/redis/config.go
package redis

import (
	"fmt"

	"github.com/YaganovValera/broker-archive/common/backoff"
)

// Config describes one redis endpoint.
type Config struct {
	Addr     string         `mapstructure:"addr"`
	Username string         `mapstructure:"username"`
	Password string         `mapstructure:"password" json:"-"`
	DB       int            `mapstructure:"db"`
	Backoff  backoff.Config `mapstructure:"backoff"`
}

func (c Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis: addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: db must be ≥ 0")
	}
	return nil
}
