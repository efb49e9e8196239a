// services/archiver/internal/export/kafka.go
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	commonkafka "github.com/YaganovValera/broker-archive/common/kafka"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

// KafkaSink publishes every event keyed by its id.
type KafkaSink struct {
	producer  commonkafka.Producer
	topic     string
	batchSize int
	log       *logger.Logger
}

func NewKafkaSink(producer commonkafka.Producer, topic string, batchSize int, log *logger.Logger) *KafkaSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &KafkaSink{producer: producer, topic: topic, batchSize: batchSize, log: log.Named("kafka-sink")}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []*timeline.Event) error {
	ctx, span := tracer.Start(ctx, "KafkaSink.Write",
		trace.WithAttributes(
			attribute.String("messaging.destination", s.topic),
			attribute.Int("events", len(events)),
		))
	defer span.End()

	batch := make([]commonkafka.Record, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.producer.PublishBatch(ctx, s.topic, batch); err != nil {
			span.RecordError(err)
			return fmt.Errorf("kafka-sink: publish: %w", err)
		}
		s.log.Debug("batch published", zap.Int("records", len(batch)))
		batch = batch[:0]
		return nil
	}

	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("kafka-sink: marshal %s: %w", e.ID, err)
		}
		batch = append(batch, commonkafka.Record{Key: []byte(e.ID), Value: value})
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
