// services/archiver/internal/timeline/walker.go
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/internal/metrics"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// DefaultMaxResubscribe is how often a failed request is repeated.
const DefaultMaxResubscribe = 3

// Mux is the multiplexer surface the walker drives.
type Mux interface {
	Subscriber
	Receive(ctx context.Context) (stream.Response, error)
}

// Poller lets the walker settle finished downloads between frames.
type Poller interface {
	Poll(ctx context.Context) int
}

// WalkerConfig tunes one run.
type WalkerConfig struct {
	Cutoff         time.Time
	BatchLimit     int
	MaxResubscribe int
}

// Status is a point-in-time view of a run.
type Status struct {
	State   string  `json:"state"`
	Pages   int     `json:"pages"`
	Events  int     `json:"events"`
	Details Counter `json:"details"`
}

// Walker owns the receive loop of one archive run: it routes page answers
// to the paginator and detail answers to the scheduler until finalize ran.
type Walker struct {
	mux   Mux
	pag   *Paginator
	sched *Scheduler
	poll  Poller
	log   *logger.Logger

	maxResubscribe int
	attempts       map[int64]int
	finished       bool
	status         atomic.Pointer[Status]
}

// NewWalker wires paginator and scheduler. sink, resolver and poll may be
// nil.
func NewWalker(cfg WalkerConfig, mux Mux, sink DocumentSink, resolver documents.Resolver, poll Poller, finalize FinalizeFunc, log *logger.Logger) *Walker {
	if cfg.MaxResubscribe <= 0 {
		cfg.MaxResubscribe = DefaultMaxResubscribe
	}
	w := &Walker{
		mux:            mux,
		poll:           poll,
		log:            log.Named("walker"),
		maxResubscribe: cfg.MaxResubscribe,
		attempts:       make(map[int64]int),
	}
	w.pag = NewPaginator(mux, cfg.Cutoff, log)
	w.sched = NewScheduler(mux, w.pag.Events(), cfg.BatchLimit, sink, resolver, func(ctx context.Context, events *EventSet) error {
		w.finished = true
		w.pag.Finish()
		if finalize == nil {
			return nil
		}
		return finalize(ctx, events)
	}, log)
	w.publish()
	return w
}

func (w *Walker) Paginator() *Paginator { return w.pag }
func (w *Walker) Scheduler() *Scheduler { return w.sched }

// Status is safe to call from any goroutine.
func (w *Walker) Status() Status { return *w.status.Load() }

// Run drives the walk to completion. Protocol errors and failures to
// fetch history pages end the run.
func (w *Walker) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Walker.Run")
	defer span.End()

	if err := w.pag.Start(ctx); err != nil {
		return err
	}
	w.publish()

	for !w.finished {
		if w.poll != nil {
			w.poll.Poll(ctx)
		}

		resp, err := w.mux.Receive(ctx)
		if err != nil {
			var se *stream.SubscriptionError
			if errors.As(err, &se) {
				if rerr := w.retry(ctx, se); rerr != nil {
					span.RecordError(rerr)
					return rerr
				}
				w.publish()
				continue
			}
			span.RecordError(err)
			return fmt.Errorf("timeline: receive: %w", err)
		}

		if err := w.route(ctx, resp); err != nil {
			span.RecordError(err)
			return err
		}
		w.publish()
	}
	w.publish()
	return nil
}

func (w *Walker) route(ctx context.Context, resp stream.Response) error {
	delete(w.attempts, resp.ID)
	switch {
	case w.pag.Owns(resp.ID):
		if err := w.pag.HandlePage(ctx, resp); err != nil {
			return err
		}
		if w.pag.State() == StateDetailPhase {
			return w.sched.Start(ctx)
		}
		return nil
	case w.sched.Owns(resp.ID):
		return w.sched.HandleDetail(ctx, resp)
	default:
		w.log.Debug("response for foreign subscription", zap.Int64("id", resp.ID), zap.String("type", resp.Request.Type()))
		return w.mux.Unsubscribe(ctx, resp.ID)
	}
}

// retry repeats a failed request with the identical payload.
func (w *Walker) retry(ctx context.Context, se *stream.SubscriptionError) error {
	owner := ""
	switch {
	case w.pag.Owns(se.ID):
		owner = "page"
	case w.sched.Owns(se.ID):
		owner = "detail"
	default:
		w.log.Warn("error for foreign subscription", zap.Error(se))
		return nil
	}

	n := w.attempts[se.ID] + 1
	delete(w.attempts, se.ID)
	if n > w.maxResubscribe {
		if owner == "detail" {
			return w.sched.Abandon(ctx, se.ID, se)
		}
		return fmt.Errorf("timeline: page request failed %d times: %w", n, se)
	}

	w.log.Warn("resubscribing after error", zap.String("owner", owner), zap.Int("attempt", n), zap.Error(se))
	metrics.Resubscribes.Inc()
	newID, err := w.mux.Subscribe(ctx, se.Request)
	if err != nil {
		return fmt.Errorf("timeline: resubscribe: %w", err)
	}
	w.attempts[newID] = n
	if !w.pag.Rebind(se.ID, newID) {
		w.sched.Rebind(se.ID, newID)
	}
	return nil
}

func (w *Walker) publish() {
	w.status.Store(&Status{
		State:   w.pag.State().String(),
		Pages:   w.pag.Pages(),
		Events:  w.pag.Events().Len(),
		Details: w.sched.Counter(),
	})
}
