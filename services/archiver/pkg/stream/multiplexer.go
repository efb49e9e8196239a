// services/archiver/pkg/stream/multiplexer.go
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/credentials"
)

// Transport is the part of Session the multiplexer needs.
type Transport interface {
	Send(ctx context.Context, frame string) error
	ReceiveFrame(ctx context.Context) (string, error)
	Reconnect(ctx context.Context) error
	Mode() Mode
}

// Observer receives multiplexer events, typically for metrics.
type Observer interface {
	FrameReceived(kind FrameKind)
	Reconnected(resubscribed int)
	OpenSubscriptions(n int)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(FrameKind) {}
func (nopObserver) Reconnected(int)         {}
func (nopObserver) OpenSubscriptions(int)   {}

// Response is one decoded payload for a subscription.
type Response struct {
	ID      int64
	Request Request
	Payload json.RawMessage
}

type subscription struct {
	req    Request
	last   string
	cached bool
}

type pending struct {
	id   int64
	resp Response
	err  error
}

// Multiplexer runs many logical subscriptions over one Transport.
//
// Receive, Await and Request must be called from a single goroutine.
// Subscribe and Unsubscribe may be called from anywhere.
type Multiplexer struct {
	t     Transport
	creds credentials.Provider
	log   *logger.Logger
	obs   Observer

	nextID atomic.Int64

	mu   sync.Mutex
	subs map[int64]*subscription

	backlog []pending
}

// NewMultiplexer builds a multiplexer. obs may be nil.
func NewMultiplexer(t Transport, creds credentials.Provider, log *logger.Logger, obs Observer) *Multiplexer {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Multiplexer{
		t:     t,
		creds: creds,
		log:   log.Named("mux"),
		obs:   obs,
		subs:  make(map[int64]*subscription),
	}
}

// Subscribe registers req under a fresh id and sends it. It does not wait
// for a response. A subscription whose send hit a dropped connection stays
// registered and is replayed after the reconnect.
func (m *Multiplexer) Subscribe(ctx context.Context, req Request) (int64, error) {
	payload, err := m.encode(ctx, req)
	if err != nil {
		return 0, err
	}
	id := m.nextID.Add(1)

	m.mu.Lock()
	m.subs[id] = &subscription{req: req.Clone()}
	n := len(m.subs)
	m.mu.Unlock()
	m.obs.OpenSubscriptions(n)

	if err := m.t.Send(ctx, subFrame(id, payload)); err != nil {
		var ce *ConnectionError
		if errors.As(err, &ce) {
			m.log.Warn("subscribe deferred until reconnect", zap.Int64("id", id), zap.Error(err))
			return id, nil
		}
		m.forget(id)
		return 0, fmt.Errorf("stream: subscribe %s: %w", req.Type(), err)
	}
	m.log.Debug("subscribed", zap.Int64("id", id), zap.String("type", req.Type()))
	return id, nil
}

// Unsubscribe removes id and tells the server. Unknown ids are a no-op.
func (m *Multiplexer) Unsubscribe(ctx context.Context, id int64) error {
	if !m.forget(id) {
		return nil
	}
	if err := m.t.Send(ctx, unsubFrame(id)); err != nil {
		var ce *ConnectionError
		if errors.As(err, &ce) {
			// the server forgets everything on disconnect anyway
			return nil
		}
		return fmt.Errorf("stream: unsubscribe %d: %w", id, err)
	}
	return nil
}

// Active returns the ids of all tracked subscriptions in ascending order.
func (m *Multiplexer) Active() []int64 {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Receive returns the next answer or delta for any subscription. Closed
// frames are consumed silently. An error frame is returned as
// *SubscriptionError after the subscription has been dropped.
func (m *Multiplexer) Receive(ctx context.Context) (Response, error) {
	for len(m.backlog) > 0 {
		p := m.backlog[0]
		m.backlog = m.backlog[1:]
		// answers queued for a subscription that is gone by now are stale;
		// subscription errors are raised after the drop and still count
		if p.err == nil && !m.tracked(p.id) {
			continue
		}
		return p.resp, p.err
	}
	return m.next(ctx)
}

// Await waits for the next response of one subscription. Responses for
// other subscriptions are queued for later Receive calls. When timeout
// elapses the subscription is dropped and *TimeoutError returned.
func (m *Multiplexer) Await(ctx context.Context, id int64, timeout time.Duration) (Response, error) {
	for i, p := range m.backlog {
		if p.id == id {
			m.backlog = append(m.backlog[:i], m.backlog[i+1:]...)
			return p.resp, p.err
		}
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		resp, err := m.next(wctx)
		if err != nil {
			var se *SubscriptionError
			if errors.As(err, &se) {
				if se.ID == id {
					return Response{}, err
				}
				m.backlog = append(m.backlog, pending{id: se.ID, err: err})
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				req := m.request(id)
				if uerr := m.Unsubscribe(ctx, id); uerr != nil {
					m.log.Warn("unsubscribe after timeout failed", zap.Int64("id", id), zap.Error(uerr))
				}
				return Response{}, &TimeoutError{ID: id, Request: req, After: timeout}
			}
			return Response{}, err
		}
		if resp.ID == id {
			return resp, nil
		}
		m.backlog = append(m.backlog, pending{id: resp.ID, resp: resp})
	}
}

// Request subscribes, waits for the first response and unsubscribes.
func (m *Multiplexer) Request(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	id, err := m.Subscribe(ctx, req)
	if err != nil {
		return Response{}, err
	}
	resp, err := m.Await(ctx, id, timeout)
	if uerr := m.Unsubscribe(ctx, id); uerr != nil && err == nil {
		err = uerr
	}
	return resp, err
}

func (m *Multiplexer) next(ctx context.Context) (Response, error) {
	for {
		raw, err := m.t.ReceiveFrame(ctx)
		if err != nil {
			var ce *ConnectionError
			if errors.As(err, &ce) && ctx.Err() == nil {
				m.log.Warn("connection lost", zap.Error(err))
				if rerr := m.recover(ctx); rerr != nil {
					return Response{}, rerr
				}
				continue
			}
			return Response{}, err
		}

		resp, ok, err := m.handle(ctx, raw)
		if err != nil {
			return Response{}, err
		}
		if ok {
			return resp, nil
		}
	}
}

// handle decodes one frame. ok is false when the frame produced nothing
// for the caller.
func (m *Multiplexer) handle(ctx context.Context, raw string) (Response, bool, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return Response{}, false, err
	}
	m.obs.FrameReceived(f.Kind)

	m.mu.Lock()
	sub := m.subs[f.ID]
	m.mu.Unlock()
	if sub == nil {
		m.log.Debug("frame for unknown subscription dropped",
			zap.Int64("id", f.ID), zap.Stringer("kind", f.Kind))
		return Response{}, false, nil
	}

	switch f.Kind {
	case FrameClosed:
		m.forget(f.ID)
		m.log.Debug("subscription closed by server", zap.Int64("id", f.ID))
		return Response{}, false, nil

	case FrameError:
		if err := m.Unsubscribe(ctx, f.ID); err != nil {
			m.log.Warn("unsubscribe after error frame failed", zap.Int64("id", f.ID), zap.Error(err))
		}
		return Response{}, false, &SubscriptionError{ID: f.ID, Request: sub.req, Payload: asJSON(f.Body)}

	case FrameAnswer:
		if !json.Valid([]byte(f.Body)) {
			return Response{}, false, protocolErr(raw, "answer is not valid JSON")
		}
		sub.last, sub.cached = f.Body, true
		return Response{ID: f.ID, Request: sub.req, Payload: json.RawMessage(f.Body)}, true, nil

	case FrameDelta:
		if !sub.cached {
			return Response{}, false, protocolErr(raw, "delta for subscription %d without previous payload", f.ID)
		}
		full, err := Apply(sub.last, f.Body)
		if err != nil {
			return Response{}, false, err
		}
		if !json.Valid([]byte(full)) {
			return Response{}, false, protocolErr(raw, "reconstructed payload is not valid JSON")
		}
		sub.last = full
		return Response{ID: f.ID, Request: sub.req, Payload: json.RawMessage(full)}, true, nil
	}
	return Response{}, false, nil
}

// maxRecoverRounds bounds how often recover starts over when the
// connection drops again while subscriptions are being replayed. Each
// round's reconnect is itself bounded by the session back-off.
const maxRecoverRounds = 5

// recover reconnects the transport and replays every tracked subscription
// with its original request. Cached payloads are discarded.
func (m *Multiplexer) recover(ctx context.Context) error {
	var err error
	for round := 1; round <= maxRecoverRounds; round++ {
		err = m.resubscribe(ctx)
		var ce *ConnectionError
		if err == nil || !errors.As(err, &ce) || ctx.Err() != nil {
			return err
		}
		m.log.Warn("connection lost while resubscribing", zap.Int("round", round), zap.Error(err))
	}
	return err
}

func (m *Multiplexer) resubscribe(ctx context.Context) error {
	if err := m.t.Reconnect(ctx); err != nil {
		return fmt.Errorf("stream: reconnect: %w", err)
	}

	ids := m.Active()
	for _, id := range ids {
		m.mu.Lock()
		sub, ok := m.subs[id]
		if ok {
			sub.last, sub.cached = "", false
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		payload, err := m.encode(ctx, sub.req)
		if err != nil {
			return err
		}
		if err := m.t.Send(ctx, subFrame(id, payload)); err != nil {
			return fmt.Errorf("stream: resubscribe %d: %w", id, err)
		}
	}
	m.obs.Reconnected(len(ids))
	m.log.Info("resubscribed after reconnect", zap.Int("subscriptions", len(ids)))
	return nil
}

// encode renders req, adding the bearer token in token mode.
func (m *Multiplexer) encode(ctx context.Context, req Request) ([]byte, error) {
	out := req
	if m.t.Mode() != ModeCookie {
		creds, err := m.creds.Credentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("stream: credentials: %w", err)
		}
		out = req.Clone()
		out["token"] = creds.Token
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s: %w", req.Type(), err)
	}
	return b, nil
}

func (m *Multiplexer) forget(id int64) bool {
	m.mu.Lock()
	_, ok := m.subs[id]
	delete(m.subs, id)
	n := len(m.subs)
	m.mu.Unlock()
	if ok {
		m.obs.OpenSubscriptions(n)
	}
	return ok
}

func (m *Multiplexer) tracked(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[id]
	return ok
}

func (m *Multiplexer) request(id int64) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		return sub.req
	}
	return nil
}

func asJSON(body string) json.RawMessage {
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(body)
	return b
}
