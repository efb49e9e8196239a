// services/archiver/pkg/stream/conn.go
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one text-message connection.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(text string) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket and keeps the connection
// alive with pings.
type WebsocketDialer struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// NewWebsocketDialer builds a dialer from cfg.
func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	cfg.applyDefaults()
	return &WebsocketDialer{
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &RejectedError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	c := &wsConn{
		ws:           ws,
		readTimeout:  d.ReadTimeout,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	return string(data), nil
}

func (c *wsConn) WriteMessage(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.readTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// a failed ping surfaces as a read deadline error
			_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
		}
	}
}
