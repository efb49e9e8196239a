// services/archiver/internal/timeline/scheduler.go
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// DefaultBatchLimit bounds the detail lookups outstanding at once.
const DefaultBatchLimit = 1000

const detailAction = "timelineDetail"

// DocumentSink receives download tasks resolved from details.
type DocumentSink interface {
	Enqueue(ctx context.Context, t documents.Task) bool
}

// FinalizeFunc runs once every event has been accounted for.
type FinalizeFunc func(ctx context.Context, events *EventSet) error

type detailPayload struct {
	ID       string          `json:"id"`
	Sections []detailSection `json:"sections"`
}

type detailSection struct {
	Title string          `json:"title"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type documentItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Detail      string  `json:"detail"`
	PostboxType string  `json:"postboxType"`
	Action      *Action `json:"action"`
}

// Scheduler requests one detail per actionable event, at most batchLimit
// of them outstanding. Its walk over the event set is resumable: Step
// returns when a batch is full and HandleDetail resumes it once the batch
// has been answered.
type Scheduler struct {
	sub      Subscriber
	events   *EventSet
	sink     DocumentSink
	resolver documents.Resolver
	finalize FinalizeFunc
	log      *logger.Logger

	batchLimit int
	cursor     int
	inBatch    int
	suspended  bool
	started    bool
	finalized  bool

	counter Counter
	pending map[int64]string // subscription id -> event id
}

// NewScheduler wires a scheduler. sink and resolver may be nil when
// documents are not downloaded.
func NewScheduler(sub Subscriber, events *EventSet, batchLimit int, sink DocumentSink, resolver documents.Resolver, finalize FinalizeFunc, log *logger.Logger) *Scheduler {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Scheduler{
		sub:        sub,
		events:     events,
		sink:       sink,
		resolver:   resolver,
		finalize:   finalize,
		log:        log.Named("details"),
		batchLimit: batchLimit,
		pending:    make(map[int64]string),
	}
}

func (s *Scheduler) Counter() Counter { return s.counter }
func (s *Scheduler) Suspended() bool  { return s.suspended }
func (s *Scheduler) Finalized() bool  { return s.finalized }

// Owns reports whether id is an outstanding detail lookup.
func (s *Scheduler) Owns(id int64) bool {
	_, ok := s.pending[id]
	return ok
}

// Rebind moves a retried lookup to its new subscription id.
func (s *Scheduler) Rebind(oldID, newID int64) bool {
	ev, ok := s.pending[oldID]
	if !ok {
		return false
	}
	delete(s.pending, oldID)
	s.pending[newID] = ev
	return true
}

// Start snapshots the event count and begins the walk.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	s.started = true
	s.counter.TotalKnown = s.events.Len()
	s.log.Info("detail phase started", zap.Int("events", s.counter.TotalKnown), zap.Int("batch_limit", s.batchLimit))
	return s.Step(ctx)
}

// Step advances the walk until the event set is exhausted or the current
// batch is full while lookups are still outstanding.
func (s *Scheduler) Step(ctx context.Context) error {
	s.suspended = false
	for s.cursor < s.events.Len() {
		if s.inBatch >= s.batchLimit {
			if s.counter.Outstanding() > 0 {
				s.suspended = true
				s.log.Debug("batch full, waiting",
					zap.Int("outstanding", s.counter.Outstanding()), zap.Int("walked", s.cursor))
				return nil
			}
			s.inBatch = 0
		}

		ev := s.events.At(s.cursor)
		s.cursor++
		s.counter.Requested++

		if reason := notActionable(ev); reason != "" {
			s.counter.Skipped++
			metrics.DetailsTotal.WithLabelValues("skipped").Inc()
			s.log.Debug("event has no detail", zap.String("id", ev.ID), zap.String("reason", reason))
			continue
		}

		id, err := s.sub.Subscribe(ctx, stream.Request{"type": "timelineDetailV2", "id": ev.ID})
		if err != nil {
			return fmt.Errorf("timeline: request detail %s: %w", ev.ID, err)
		}
		s.pending[id] = ev.ID
		s.counter.Issued++
		s.inBatch++
		metrics.DetailsTotal.WithLabelValues("requested").Inc()
	}
	return s.maybeFinalize(ctx)
}

func notActionable(ev *Event) string {
	switch {
	case ev.Action == nil:
		return "no action"
	case ev.Action.Type != detailAction:
		return "action type " + ev.Action.Type
	case ev.Action.PayloadString() != ev.ID:
		return "action payload does not match event id"
	}
	return ""
}

// HandleDetail consumes one detail answer.
func (s *Scheduler) HandleDetail(ctx context.Context, resp stream.Response) error {
	ctx, span := tracer.Start(ctx, "Scheduler.HandleDetail")
	defer span.End()

	eventID := s.pending[resp.ID]
	delete(s.pending, resp.ID)
	if err := s.sub.Unsubscribe(ctx, resp.ID); err != nil {
		s.log.Warn("unsubscribe detail failed", zap.Int64("id", resp.ID), zap.Error(err))
	}

	var d detailPayload
	if err := json.Unmarshal(resp.Payload, &d); err != nil {
		span.RecordError(err)
		return fmt.Errorf("timeline: decode detail %d: %w", resp.ID, err)
	}
	if d.ID == "" {
		d.ID = eventID
	}

	ev, ok := s.events.Get(d.ID)
	switch {
	case !ok:
		s.counter.Skipped++
		metrics.DetailsTotal.WithLabelValues("stale").Inc()
		s.log.Warn("detail for unknown event", zap.String("id", d.ID))
	case ev.Detail != nil:
		s.counter.Skipped++
		metrics.DetailsTotal.WithLabelValues("stale").Inc()
		s.log.Warn("detail already attached", zap.String("id", d.ID))
	default:
		s.counter.Received++
		metrics.DetailsTotal.WithLabelValues("received").Inc()
		ev.Detail = append(json.RawMessage(nil), resp.Payload...)
		s.attachDocuments(ctx, ev, d)
	}

	return s.resume(ctx)
}

// Abandon gives up on a lookup that kept failing. It still counts toward
// completion.
func (s *Scheduler) Abandon(ctx context.Context, id int64, cause error) error {
	eventID, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	s.counter.Skipped++
	metrics.DetailsTotal.WithLabelValues("failed").Inc()
	s.log.Error("detail lookup abandoned", zap.String("id", eventID), zap.Error(cause))
	return s.resume(ctx)
}

func (s *Scheduler) resume(ctx context.Context) error {
	if s.suspended && s.counter.Outstanding() <= 0 {
		s.inBatch = 0
		return s.Step(ctx)
	}
	return s.maybeFinalize(ctx)
}

func (s *Scheduler) maybeFinalize(ctx context.Context) error {
	if s.finalized || !s.counter.Done() {
		return nil
	}
	s.finalized = true
	s.log.Info("all details accounted for",
		zap.Int("received", s.counter.Received), zap.Int("skipped", s.counter.Skipped))
	if s.finalize == nil {
		return nil
	}
	return s.finalize(ctx, s.events)
}

func (s *Scheduler) attachDocuments(ctx context.Context, ev *Event, d detailPayload) {
	for _, sec := range d.Sections {
		if sec.Type != "documents" {
			continue
		}
		var docs []documentItem
		if err := json.Unmarshal(sec.Data, &docs); err != nil {
			s.log.Warn("documents section unreadable", zap.String("id", ev.ID), zap.Error(err))
			continue
		}
		if len(docs) > 0 {
			ev.HasDocuments = true
		}
		if s.sink == nil || s.resolver == nil {
			continue
		}
		for _, doc := range docs {
			url := doc.Action.PayloadString()
			if url == "" {
				continue
			}
			ref := documents.Ref{
				EventID:    ev.ID,
				EventTitle: ev.Title,
				EventTime:  ev.Timestamp,
				Feed:       string(ev.Feed),
				DocumentID: doc.ID,
				Title:      doc.Title,
				URL:        url,
				Date:       parseDocumentDate(doc.Detail),
			}
			s.sink.Enqueue(ctx, documents.NewTask(url, s.resolver.Resolve(ref), doc.ID, ev.ID))
		}
	}
}

func parseDocumentDate(s string) time.Time {
	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
