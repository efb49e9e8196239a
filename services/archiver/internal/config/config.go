// services/archiver/internal/config/config.go
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/YaganovValera/broker-archive/common/configloader"
	httpserver "github.com/YaganovValera/broker-archive/common/httpserver"
	producer "github.com/YaganovValera/broker-archive/common/kafka/producer"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/telemetry"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/storage/postgres"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// EnvPrefix is the prefix of environment overrides, e.g. ARCHIVER_STREAM_URL.
const EnvPrefix = "ARCHIVER"

// Config holds every setting of the archiver.
type Config struct {
	ServiceName    string           `mapstructure:"service_name"`
	ServiceVersion string           `mapstructure:"service_version"`
	Stream         stream.Config    `mapstructure:"stream"`
	Credentials    Credentials      `mapstructure:"credentials"`
	Timeline       Timeline         `mapstructure:"timeline"`
	Documents      documents.Config `mapstructure:"documents"`
	Export         Export           `mapstructure:"export"`
	Telemetry      telemetry.Config `mapstructure:"telemetry"`
	Logging        logger.Config    `mapstructure:"logging"`
	HTTP           HTTP             `mapstructure:"http"`
}

// Credentials are handed to the static provider. Cookies are "name=value" pairs.
type Credentials struct {
	Token   string        `mapstructure:"token" json:"-"`
	Cookies []string      `mapstructure:"cookies" json:"-"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Timeline tunes the history walk.
type Timeline struct {
	LastDays       int `mapstructure:"last_days"` // 0 = everything
	BatchLimit     int `mapstructure:"batch_limit"`
	MaxResubscribe int `mapstructure:"max_resubscribe"`
}

// Cutoff turns LastDays into an absolute boundary; zero time means no boundary.
func (t Timeline) Cutoff(now time.Time) time.Time {
	if t.LastDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -t.LastDays)
}

// Export lists the optional sinks next to the JSON artifacts.
type Export struct {
	Kafka    KafkaExport    `mapstructure:"kafka"`
	Postgres PostgresExport `mapstructure:"postgres"`
}

type KafkaExport struct {
	Enabled   bool            `mapstructure:"enabled"`
	Topic     string          `mapstructure:"topic"`
	BatchSize int             `mapstructure:"batch_size"`
	Producer  producer.Config `mapstructure:",squash"`
}

type PostgresExport struct {
	Enabled bool            `mapstructure:"enabled"`
	Store   postgres.Config `mapstructure:",squash"`
}

// HTTP is the optional status server.
type HTTP struct {
	Enabled bool              `mapstructure:"enabled"`
	Server  httpserver.Config `mapstructure:",squash"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"service_name":    "archiver",
		"service_version": "v1.0.0",

		"stream.url":               "wss://api.traderepublic.com",
		"stream.locale":            "en",
		"stream.mode":              string(stream.ModeToken),
		"stream.read_timeout":      "60s",
		"stream.write_timeout":     "10s",
		"stream.handshake_timeout": "15s",
		"stream.buffer_size":       256,

		"stream.backoff.initial_interval":     "1s",
		"stream.backoff.max_interval":         "30s",
		"stream.backoff.max_elapsed_time":     "2m",
		"stream.backoff.multiplier":           2.0,
		"stream.backoff.randomization_factor": 0.5,

		"credentials.token":   "",
		"credentials.cookies": []string{},
		"credentials.ttl":     "290s",

		"timeline.last_days":       0,
		"timeline.batch_limit":     1000,
		"timeline.max_resubscribe": 3,

		"documents.output_dir":      "archive",
		"documents.workers":         8,
		"documents.history_backend": documents.HistoryFile,
		"documents.history_file":    "",
		"documents.history_key":     "archiver:history",
		"documents.http_timeout":    "60s",

		"documents.redis.addr":     "localhost:6379",
		"documents.redis.username": "",
		"documents.redis.password": "",
		"documents.redis.db":       0,

		"documents.fetch_backoff.max_attempts": 3,
		"documents.fetch_backoff.max_interval": "10s",

		"export.kafka.enabled":     false,
		"export.kafka.topic":       "timeline.events",
		"export.kafka.batch_size":  500,
		"export.kafka.brokers":     []string{"localhost:9092"},
		"export.kafka.acks":        "all",
		"export.kafka.timeout":     "15s",
		"export.kafka.compression": "none",

		"export.postgres.enabled":         false,
		"export.postgres.dsn":             "",
		"export.postgres.max_conns":       4,
		"export.postgres.connect_timeout": "10s",

		"telemetry.enabled":       false,
		"telemetry.otel_endpoint": "otel-collector:4317",
		"telemetry.insecure":      true,

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.enabled":          false,
		"http.addr":             ":8080",
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",
	}
}

// Load reads defaults, ARCHIVER_* environment and the optional YAML file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, defaults(), &cfg); err != nil {
		return nil, err
	}
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	cfg.Documents.ApplyDefaults()
	return &cfg, nil
}

// Validate checks cross-section constraints. Sections owned by other
// packages are validated again by their constructors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	switch c.Stream.Mode {
	case stream.ModeToken, stream.ModeCookie:
	default:
		return fmt.Errorf("stream.mode must be one of [token, cookie]")
	}
	if c.Stream.Mode == stream.ModeToken && strings.TrimSpace(c.Credentials.Token) == "" {
		return fmt.Errorf("credentials.token is required in token mode")
	}
	if c.Stream.Mode == stream.ModeCookie && len(c.Credentials.Cookies) == 0 {
		return fmt.Errorf("credentials.cookies are required in cookie mode")
	}

	if c.Timeline.LastDays < 0 {
		return fmt.Errorf("timeline.last_days must be >= 0")
	}
	if c.Timeline.BatchLimit <= 0 {
		return fmt.Errorf("timeline.batch_limit must be > 0")
	}
	if c.Timeline.MaxResubscribe <= 0 {
		return fmt.Errorf("timeline.max_resubscribe must be > 0")
	}

	docs := c.Documents
	docs.ApplyDefaults()
	if err := docs.Validate(); err != nil {
		return err
	}

	if c.Export.Kafka.Enabled {
		if len(c.Export.Kafka.Producer.Brokers) == 0 {
			return fmt.Errorf("export.kafka.brokers is required")
		}
		if c.Export.Kafka.Topic == "" {
			return fmt.Errorf("export.kafka.topic is required")
		}
	}
	if c.Export.Postgres.Enabled {
		store := c.Export.Postgres.Store
		store.ApplyDefaults()
		if err := store.Validate(); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Server.Addr == "" {
			return fmt.Errorf("http.addr is required")
		}
		paths := map[string]string{
			"http.metrics_path": c.HTTP.Server.MetricsPath,
			"http.healthz_path": c.HTTP.Server.HealthzPath,
			"http.readyz_path":  c.HTTP.Server.ReadyzPath,
		}
		for k, p := range paths {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%s must start with '/'", k)
			}
		}
	}
	return nil
}

// Print writes the effective configuration without secrets.
func (c *Config) Print(w io.Writer) error {
	return configloader.PrintConfig(w, c)
}
