// services/archiver/pkg/stream/config.go
package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/broker-archive/common/backoff"
)

// Mode selects how the client identifies itself.
type Mode string

const (
	// ModeToken sends a bearer token inside every sub payload.
	ModeToken Mode = "token"
	// ModeCookie sends session cookies on the websocket dial.
	ModeCookie Mode = "cookie"
)

// Config describes the streaming endpoint and session behaviour.
type Config struct {
	URL    string `mapstructure:"url"`
	Locale string `mapstructure:"locale"`
	Mode   Mode   `mapstructure:"mode"`

	// Client identity for the cookie handshake.
	PlatformID      string `mapstructure:"platform_id"`
	PlatformVersion string `mapstructure:"platform_version"`
	ClientID        string `mapstructure:"client_id"`
	ClientVersion   string `mapstructure:"client_version"`

	ReadTimeout      time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration  `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	BufferSize       int            `mapstructure:"buffer_size"`
	Backoff          backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Locale == "" {
		c.Locale = "en"
	}
	if c.Mode == "" {
		c.Mode = ModeToken
	}
	if c.PlatformID == "" {
		c.PlatformID = "webtrading"
	}
	if c.PlatformVersion == "" {
		c.PlatformVersion = "chrome - 94.0.4606"
	}
	if c.ClientID == "" {
		c.ClientID = "app.traderepublic.com"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "5582"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

func (c Config) validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "url is required")
	}
	if c.Mode != ModeToken && c.Mode != ModeCookie {
		errs = append(errs, fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("stream: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// handshake returns the connect frame for the configured mode.
func (c Config) handshake() (string, error) {
	if c.Mode == ModeCookie {
		return connectFrame(connectVersionCookie, map[string]string{
			"locale":          c.Locale,
			"platformId":      c.PlatformID,
			"platformVersion": c.PlatformVersion,
			"clientId":        c.ClientID,
			"clientVersion":   c.ClientVersion,
		})
	}
	return connectFrame(connectVersionToken, map[string]string{"locale": c.Locale})
}
