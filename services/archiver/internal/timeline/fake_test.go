package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/YaganovValera/broker-archive/services/archiver/internal/documents"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/stream"
)

var errNoFrames = errors.New("fake: no more frames")

type outcome struct {
	resp stream.Response
	err  error
}

// fakeMux hands out ids like the real multiplexer and answers requests
// through respond.
type fakeMux struct {
	next    int64
	reqs    map[int64]stream.Request
	log     []stream.Request
	unsubs  []int64
	queue   []outcome
	respond func(m *fakeMux, id int64, req stream.Request)
}

func newFakeMux(respond func(m *fakeMux, id int64, req stream.Request)) *fakeMux {
	return &fakeMux{reqs: map[int64]stream.Request{}, respond: respond}
}

func (m *fakeMux) Subscribe(_ context.Context, req stream.Request) (int64, error) {
	m.next++
	m.reqs[m.next] = req
	m.log = append(m.log, req)
	if m.respond != nil {
		m.respond(m, m.next, req)
	}
	return m.next, nil
}

func (m *fakeMux) Unsubscribe(_ context.Context, id int64) error {
	m.unsubs = append(m.unsubs, id)
	return nil
}

func (m *fakeMux) Receive(context.Context) (stream.Response, error) {
	if len(m.queue) == 0 {
		return stream.Response{}, errNoFrames
	}
	o := m.queue[0]
	m.queue = m.queue[1:]
	return o.resp, o.err
}

func (m *fakeMux) answer(id int64, payload string) {
	m.queue = append(m.queue, outcome{resp: stream.Response{ID: id, Request: m.reqs[id], Payload: json.RawMessage(payload)}})
}

func (m *fakeMux) fail(id int64) {
	m.queue = append(m.queue, outcome{err: &stream.SubscriptionError{ID: id, Request: m.reqs[id], Payload: json.RawMessage(`{"errors":[]}`)}})
}

func (m *fakeMux) countType(typ string) int {
	n := 0
	for _, r := range m.log {
		if r.Type() == typ {
			n++
		}
	}
	return n
}

type recordingSink struct {
	tasks []documents.Task
}

func (s *recordingSink) Enqueue(_ context.Context, t documents.Task) bool {
	s.tasks = append(s.tasks, t)
	return true
}

func item(id, ts string, actionable bool) string {
	if actionable {
		return fmt.Sprintf(`{"id":%q,"timestamp":%q,"title":"T %s","action":{"type":"timelineDetail","payload":%q}}`, id, ts, id, id)
	}
	return fmt.Sprintf(`{"id":%q,"timestamp":%q,"title":"T %s"}`, id, ts, id)
}

func pageJSON(after string, items ...string) string {
	cursor := "null"
	if after != "" {
		cursor = fmt.Sprintf("%q", after)
	}
	return fmt.Sprintf(`{"items":[%s],"cursors":{"after":%s}}`, strings.Join(items, ","), cursor)
}

