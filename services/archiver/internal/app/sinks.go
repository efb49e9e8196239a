// services/archiver/internal/app/sinks.go
package app

import (
	"context"
	"fmt"

	producer "github.com/YaganovValera/broker-archive/common/kafka/producer"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/shutdown"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/config"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/export"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/storage/postgres"
)

type closer struct {
	name string
	fn   func(context.Context) error
}

// buildSinks returns the JSON writer plus every enabled optional sink.
// The closers are valid even when err != nil.
func buildSinks(ctx context.Context, cfg *config.Config, runID string, log *logger.Logger) ([]export.Sink, []closer, error) {
	sinks := []export.Sink{export.JSONWriter{Dir: cfg.Documents.OutputDir}}
	var closers []closer

	if cfg.Export.Kafka.Enabled {
		prod, err := producer.New(ctx, cfg.Export.Kafka.Producer, log)
		if err != nil {
			return nil, closers, fmt.Errorf("kafka producer init: %w", err)
		}
		closers = append(closers, closer{name: "kafka-producer", fn: shutdown.Closer(prod)})
		sinks = append(sinks, export.NewKafkaSink(prod, cfg.Export.Kafka.Topic, cfg.Export.Kafka.BatchSize, log))
	}

	if cfg.Export.Postgres.Enabled {
		store, err := postgres.New(ctx, cfg.Export.Postgres.Store, runID, log)
		if err != nil {
			return nil, closers, fmt.Errorf("postgres init: %w", err)
		}
		closers = append(closers, closer{name: "postgres", fn: func(context.Context) error { store.Close(); return nil }})
		sinks = append(sinks, store)
	}
	return sinks, closers, nil
}
