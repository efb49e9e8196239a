// services/archiver/internal/export/export.go
package export

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/timeline"
)

var tracer = otel.Tracer("archiver/export")

// Sink persists the final event set.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []*timeline.Event) error
}

// Fanout writes to every sink and joins their errors.
type Fanout struct {
	sinks []Sink
	log   *logger.Logger
}

func NewFanout(log *logger.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, log: log.Named("export")}
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Write(ctx context.Context, events []*timeline.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Write(ctx, events); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			f.log.Error("export failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.log.Info("events exported", zap.String("sink", s.Name()), zap.Int("events", len(events)))
	}
	return errors.Join(errs...)
}

// Split partitions events by whether they reference documents, keeping
// their order.
func Split(events []*timeline.Event) (withDocs, withoutDocs []*timeline.Event) {
	for _, e := range events {
		if e.HasDocuments {
			withDocs = append(withDocs, e)
		} else {
			withoutDocs = append(withoutDocs, e)
		}
	}
	return withDocs, withoutDocs
}
