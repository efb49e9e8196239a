// services/archiver/internal/timeline/paginator.go
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// Subscriber is the part of the multiplexer used to issue requests.
type Subscriber interface {
	Subscribe(ctx context.Context, req stream.Request) (int64, error)
	Unsubscribe(ctx context.Context, id int64) error
}

// State of a pagination run.
type State int

const (
	StateIdle State = iota
	StateFetchingTransactions
	StateFetchingActivity
	StateDetailPhase
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingTransactions:
		return "fetching_transactions"
	case StateFetchingActivity:
		return "fetching_activity"
	case StateDetailPhase:
		return "detail_phase"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type page struct {
	Items   []json.RawMessage `json:"items"`
	Cursors struct {
		After *string `json:"after"`
	} `json:"cursors"`
}

// Paginator walks the transactions feed and then the activity log,
// collecting events newer than the cutoff.
type Paginator struct {
	sub    Subscriber
	cutoff time.Time
	log    *logger.Logger

	events *EventSet
	state  State
	pageID int64
	pages  int
}

// NewPaginator returns an idle paginator. A zero cutoff keeps everything.
func NewPaginator(sub Subscriber, cutoff time.Time, log *logger.Logger) *Paginator {
	return &Paginator{
		sub:    sub,
		cutoff: cutoff,
		log:    log.Named("paginator"),
		events: NewEventSet(),
		state:  StateIdle,
	}
}

// Start requests the first transactions page.
func (p *Paginator) Start(ctx context.Context) error {
	if p.state != StateIdle {
		return fmt.Errorf("timeline: paginator already started (%s)", p.state)
	}
	p.state = StateFetchingTransactions
	return p.request(ctx, FeedTransactions, nil)
}

func (p *Paginator) State() State       { return p.state }
func (p *Paginator) Events() *EventSet  { return p.events }
func (p *Paginator) Pages() int         { return p.pages }
func (p *Paginator) Owns(id int64) bool { return id != 0 && id == p.pageID }

// Rebind moves ownership of a retried page request to a new id.
func (p *Paginator) Rebind(oldID, newID int64) bool {
	if !p.Owns(oldID) {
		return false
	}
	p.pageID = newID
	return true
}

// Finish marks the run as complete.
func (p *Paginator) Finish() { p.state = StateDone }

func (p *Paginator) feed() Feed {
	if p.state == StateFetchingActivity {
		return FeedActivityLog
	}
	return FeedTransactions
}

func (p *Paginator) request(ctx context.Context, feed Feed, after *string) error {
	req := stream.Request{"type": feed.requestType()}
	if after != nil {
		req["after"] = *after
	}
	id, err := p.sub.Subscribe(ctx, req)
	if err != nil {
		return fmt.Errorf("timeline: request %s page: %w", feed, err)
	}
	p.pageID = id
	return nil
}

// HandlePage consumes one page answer and requests the next page, moves to
// the next feed, or enters the detail phase.
func (p *Paginator) HandlePage(ctx context.Context, resp stream.Response) error {
	if !p.Owns(resp.ID) {
		return fmt.Errorf("timeline: response %d is not the current page", resp.ID)
	}
	feed := p.feed()
	ctx, span := tracer.Start(ctx, "Paginator.HandlePage")
	defer span.End()
	span.SetAttributes(attribute.String("timeline.feed", string(feed)), attribute.Int("timeline.page", p.pages+1))

	if err := p.sub.Unsubscribe(ctx, resp.ID); err != nil {
		p.log.Warn("unsubscribe page failed", zap.Int64("id", resp.ID), zap.Error(err))
	}
	p.pageID = 0
	p.pages++
	metrics.PagesTotal.WithLabelValues(string(feed)).Inc()

	var pg page
	if err := json.Unmarshal(resp.Payload, &pg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("timeline: decode %s page: %w", feed, err)
	}

	inserted, boundary := 0, false
	for _, raw := range pg.Items {
		ev, err := parseItem(raw, feed)
		if err != nil {
			p.log.Warn("timeline item ignored", zap.Error(err))
			continue
		}
		if !p.cutoff.IsZero() && ev.Timestamp.Before(p.cutoff) {
			boundary = true
			break
		}
		inserted++
		if !p.events.Add(ev) {
			metrics.DuplicateEvents.Inc()
			p.log.Warn("duplicate event id, keeping first copy",
				zap.String("id", ev.ID), zap.String("feed", string(feed)))
			continue
		}
		metrics.EventsTotal.WithLabelValues(string(feed)).Inc()
	}
	p.log.Debug("page received",
		zap.String("feed", string(feed)),
		zap.Int("items", len(pg.Items)),
		zap.Int("inserted", inserted),
		zap.Bool("boundary", boundary))

	after := pg.Cursors.After
	if after != nil && *after != "" && inserted > 0 && !boundary {
		return p.request(ctx, feed, after)
	}

	switch p.state {
	case StateFetchingTransactions:
		p.log.Info("transactions exhausted", zap.Int("events", p.events.Len()))
		p.state = StateFetchingActivity
		return p.request(ctx, FeedActivityLog, nil)
	case StateFetchingActivity:
		p.log.Info("activity log exhausted", zap.Int("events", p.events.Len()), zap.Int("pages", p.pages))
		p.state = StateDetailPhase
	}
	return nil
}
