package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

// scriptedFeeds answers page requests from fixed pages and detail requests
// with a minimal detail.
func scriptedFeeds(tx, activity []string) func(m *fakeMux, id int64, req stream.Request) {
	txPage, actPage := 0, 0
	return func(m *fakeMux, id int64, req stream.Request) {
		switch req.Type() {
		case "timelineTransactions":
			m.answer(id, tx[txPage])
			txPage++
		case "timelineActivityLog":
			m.answer(id, activity[actPage])
			actPage++
		case "timelineDetailV2":
			m.answer(id, detailJSON(req["id"].(string)))
		}
	}
}

func TestWalker_TwoPagesOneActionable(t *testing.T) {
	m := newFakeMux(scriptedFeeds(
		[]string{
			pageJSON("c1", item("a", ts, false), item("b", ts, true)),
			pageJSON("", item("c", ts, false)),
		},
		[]string{pageJSON("")},
	))
	var got *EventSet
	finalized := 0
	w := NewWalker(WalkerConfig{}, m, nil, nil, nil, func(_ context.Context, ev *EventSet) error {
		finalized++
		got = ev
		return nil
	}, logger.NewNop())

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if finalized != 1 || got.Len() != 3 {
		t.Fatalf("finalized %d times with %v events", finalized, got)
	}
	if n := m.countType("timelineDetailV2"); n != 1 {
		t.Fatalf("detail subscriptions = %d; want 1", n)
	}
	c := w.Scheduler().Counter()
	if c.Skipped != 2 || c.Received != 1 {
		t.Errorf("counter = %+v", c)
	}
	st := w.Status()
	if st.State != "done" || st.Events != 3 || st.Pages != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestWalker_RetriesFailedDetail(t *testing.T) {
	failedOnce := false
	m := newFakeMux(nil)
	m.respond = func(m *fakeMux, id int64, req stream.Request) {
		switch req.Type() {
		case "timelineTransactions":
			m.answer(id, pageJSON("", item("a", ts, true)))
		case "timelineActivityLog":
			m.answer(id, pageJSON(""))
		case "timelineDetailV2":
			if !failedOnce {
				failedOnce = true
				m.fail(id)
				return
			}
			m.answer(id, detailJSON("a"))
		}
	}
	w := NewWalker(WalkerConfig{}, m, nil, nil, nil, nil, logger.NewNop())

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var details []stream.Request
	for _, r := range m.log {
		if r.Type() == "timelineDetailV2" {
			details = append(details, r)
		}
	}
	if len(details) != 2 || details[0]["id"] != details[1]["id"] {
		t.Fatalf("retry did not repeat the payload: %v", details)
	}
	if c := w.Scheduler().Counter(); c.Received != 1 || c.Skipped != 0 {
		t.Errorf("counter = %+v", c)
	}
}

func TestWalker_PageFailureEndsRunAfterRetries(t *testing.T) {
	m := newFakeMux(nil)
	m.respond = func(m *fakeMux, id int64, req stream.Request) { m.fail(id) }
	w := NewWalker(WalkerConfig{MaxResubscribe: 2}, m, nil, nil, nil, nil, logger.NewNop())

	err := w.Run(context.Background())
	var se *stream.SubscriptionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubscriptionError, got %v", err)
	}
	if n := m.countType("timelineTransactions"); n != 3 {
		t.Errorf("page attempts = %d; want 3", n)
	}
}

func TestWalker_ProtocolErrorIsFatal(t *testing.T) {
	m := newFakeMux(nil)
	m.respond = func(m *fakeMux, id int64, req stream.Request) {
		m.queue = append(m.queue, outcome{err: &stream.ProtocolError{Reason: "bad delta"}})
	}
	w := NewWalker(WalkerConfig{Cutoff: time.Now()}, m, nil, nil, nil, nil, logger.NewNop())
	err := w.Run(context.Background())
	var pe *stream.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}
