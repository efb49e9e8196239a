// services/archiver/pkg/stream/session.go
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/logger"
	"github.com/YaganovValera/broker-archive/common/telemetry"
	"github.com/YaganovValera/broker-archive/services/archiver/pkg/credentials"
)

// State of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

var errClosed = errors.New("connection closed")

type inbound struct {
	text string
	err  error
}

// link is one live connection and its reader goroutine.
type link struct {
	conn      Conn
	in        chan inbound
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn Conn, buf int) *link {
	l := &link{conn: conn, in: make(chan inbound, buf), done: make(chan struct{})}
	go l.readLoop()
	return l
}

func (l *link) readLoop() {
	for {
		text, err := l.conn.ReadMessage()
		select {
		case l.in <- inbound{text: text, err: err}:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// Session owns at most one live connection to the stream endpoint.
type Session struct {
	cfg    Config
	dialer Dialer
	creds  credentials.Provider
	log    *logger.Logger
	tracer trace.Tracer

	mu    sync.Mutex
	cur   *link
	state atomic.Int32
}

// NewSession validates cfg and returns a disconnected session.
func NewSession(cfg Config, dialer Dialer, creds credentials.Provider, log *logger.Logger) (*Session, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = NewWebsocketDialer(cfg)
	}
	if creds == nil {
		return nil, errors.New("stream: credentials provider is required")
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		creds:  creds,
		log:    log.Named("stream"),
		tracer: telemetry.Tracer("stream"),
	}, nil
}

// Mode returns the identity mode of the session.
func (s *Session) Mode() Mode { return s.cfg.Mode }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Credentials exposes the provider so the multiplexer can attach tokens.
func (s *Session) Credentials() credentials.Provider { return s.creds }

// Connect dials and performs the handshake, retrying transport failures
// with back-off. A bad handshake is not retried.
func (s *Session) Connect(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Session.Connect",
		trace.WithAttributes(attribute.String("stream.mode", string(s.cfg.Mode))))
	defer span.End()

	err := backoff.Execute(ctx, "stream-connect", s.cfg.Backoff, s.log, func(ctx context.Context) error {
		err := s.connectOnce(ctx)
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return pe
		}
		var ce *ConnectionError
		if errors.As(err, &ce) {
			return ce
		}
		return &ConnectionError{Op: "connect", Err: err}
	}
	s.log.Info("connected", zap.String("url", s.cfg.URL), zap.String("mode", string(s.cfg.Mode)))
	return nil
}

func (s *Session) connectOnce(ctx context.Context) error {
	creds, err := s.creds.Credentials(ctx)
	if err != nil {
		return &ConnectionError{Op: "credentials", Err: err}
	}
	header := http.Header{}
	if s.cfg.Mode == ModeCookie {
		header = creds.Header()
	}

	conn, err := s.dialer.Dial(ctx, s.cfg.URL, header)
	if err != nil {
		var re *RejectedError
		if errors.As(err, &re) && re.Unauthorized() {
			if inv, ok := s.creds.(interface{ Invalidate() }); ok {
				s.log.Warn("credentials rejected, refreshing", zap.Int("status", re.StatusCode))
				inv.Invalidate()
			}
		}
		return &ConnectionError{Op: "dial", Err: err}
	}
	l := newLink(conn, s.cfg.BufferSize)

	hello, err := s.cfg.handshake()
	if err != nil {
		l.close()
		return err
	}
	if err := conn.WriteMessage(hello); err != nil {
		l.close()
		return &ConnectionError{Op: "handshake", Err: err}
	}

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case in := <-l.in:
		if in.err != nil {
			l.close()
			return &ConnectionError{Op: "handshake", Err: in.err}
		}
		if in.text != ackFrame {
			l.close()
			return protocolErr(in.text, "handshake: expected %q", ackFrame)
		}
	case <-timer.C:
		l.close()
		return &ConnectionError{Op: "handshake", Err: errors.New("no acknowledgement")}
	case <-ctx.Done():
		l.close()
		return ctx.Err()
	}

	s.mu.Lock()
	if s.cur != nil {
		s.cur.close()
	}
	s.cur = l
	s.mu.Unlock()
	s.state.Store(int32(StateConnected))
	return nil
}

// Send writes one frame.
func (s *Session) Send(ctx context.Context, frame string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.current()
	if l == nil {
		return &ConnectionError{Op: "send"}
	}
	if err := l.conn.WriteMessage(frame); err != nil {
		s.drop(l)
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// ReceiveFrame blocks until one frame arrives, the connection fails or ctx
// is done. Frames keep arrival order.
func (s *Session) ReceiveFrame(ctx context.Context) (string, error) {
	l := s.current()
	if l == nil {
		return "", &ConnectionError{Op: "receive"}
	}
	select {
	case in := <-l.in:
		if in.err != nil {
			s.drop(l)
			return "", &ConnectionError{Op: "receive", Err: in.err}
		}
		return in.text, nil
	case <-l.done:
		return "", &ConnectionError{Op: "receive", Err: errClosed}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Reconnect drops the current connection and connects again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.cur != nil {
		s.cur.close()
		s.cur = nil
	}
	s.mu.Unlock()
	s.state.Store(int32(StateDisconnected))
	s.log.Warn("reconnecting")
	return s.Connect(ctx)
}

// Close tears the connection down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.cur
	s.cur = nil
	s.mu.Unlock()
	if l != nil {
		l.close()
	}
	s.state.Store(int32(StateDisconnected))
	return nil
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) drop(l *link) {
	s.mu.Lock()
	if s.cur == l {
		s.cur = nil
		s.state.Store(int32(StateDisconnected))
	}
	s.mu.Unlock()
	l.close()
}
