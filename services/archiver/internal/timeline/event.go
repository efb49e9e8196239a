// services/archiver/internal/timeline/event.go
package timeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Feed names the historical feed an event came from.
type Feed string

const (
	FeedTransactions Feed = "transactions"
	FeedActivityLog  Feed = "activityLog"
)

func (f Feed) requestType() string {
	if f == FeedActivityLog {
		return "timelineActivityLog"
	}
	return "timelineTransactions"
}

// Action is the navigation hint attached to a timeline item.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PayloadString returns the payload when it is a JSON string.
func (a *Action) PayloadString() string {
	if a == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Payload, &s); err != nil {
		return ""
	}
	return s
}

// Event is one timeline item plus the detail fetched for it.
type Event struct {
	ID           string
	Timestamp    time.Time
	Feed         Feed
	Title        string
	Subtitle     string
	Action       *Action
	Raw          json.RawMessage
	Detail       json.RawMessage
	HasDocuments bool
}

type itemHeader struct {
	ID        string          `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Title     string          `json:"title"`
	Subtitle  string          `json:"subtitle"`
	Action    *Action         `json:"action"`
}

func parseItem(raw json.RawMessage, feed Feed) (*Event, error) {
	var h itemHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("timeline: decode item: %w", err)
	}
	if h.ID == "" {
		return nil, fmt.Errorf("timeline: item without id")
	}
	ts, err := parseTimestamp(h.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timeline: item %s: %w", h.ID, err)
	}
	return &Event{
		ID:        h.ID,
		Timestamp: ts,
		Feed:      feed,
		Title:     h.Title,
		Subtitle:  h.Subtitle,
		Action:    h.Action,
		Raw:       append(json.RawMessage(nil), raw...),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// parseTimestamp accepts an ISO string or epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if s[0] != '"' {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %s", s)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, err
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", str)
}

// MarshalJSON renders the original item with the source feed and detail.
func (e *Event) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	if len(e.Raw) > 0 {
		if err := json.Unmarshal(e.Raw, &out); err != nil {
			return nil, err
		}
	}
	src, _ := json.Marshal(e.Feed)
	out["source"] = src
	if len(e.Detail) > 0 {
		out["details"] = e.Detail
	}
	return json.Marshal(out)
}

// EventSet is an insertion ordered map of events keyed by id.
type EventSet struct {
	order []string
	byID  map[string]*Event
}

func NewEventSet() *EventSet {
	return &EventSet{byID: make(map[string]*Event)}
}

// Add inserts e unless its id is known. The first copy wins.
func (s *EventSet) Add(e *Event) bool {
	if _, ok := s.byID[e.ID]; ok {
		return false
	}
	s.byID[e.ID] = e
	s.order = append(s.order, e.ID)
	return true
}

func (s *EventSet) Get(id string) (*Event, bool) {
	e, ok := s.byID[id]
	return e, ok
}

func (s *EventSet) Len() int { return len(s.order) }

// At returns the i-th event in insertion order.
func (s *EventSet) At(i int) *Event { return s.byID[s.order[i]] }

// Events returns all events in insertion order.
func (s *EventSet) Events() []*Event {
	out := make([]*Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Counter tracks detail lookups. Requested counts every walked event,
// whether a lookup was issued or it was skipped on the spot.
type Counter struct {
	TotalKnown int `json:"total_known"`
	Requested  int `json:"requested"`
	Issued     int `json:"issued"`
	Received   int `json:"received"`
	Skipped    int `json:"skipped"`
}

// Outstanding is the number of lookups still waiting for an answer.
func (c Counter) Outstanding() int { return c.Requested - c.Received - c.Skipped }

// Done reports whether every event was walked and accounted for. Stale
// server pushes may push Received+Skipped past Requested.
func (c Counter) Done() bool {
	return c.Requested == c.TotalKnown && c.Received+c.Skipped >= c.Requested
}
