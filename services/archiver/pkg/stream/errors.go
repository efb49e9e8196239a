// services/archiver/pkg/stream/errors.go
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ConnectionError reports a transport level failure: dial, write or read on
// a dropped connection. The multiplexer recovers from it by reconnecting.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream: connection %s: not connected", e.Op)
	}
	return fmt.Sprintf("stream: connection %s: %v", e.Op, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// RejectedError is returned by WebsocketDialer when the server answered the
// upgrade request with a plain HTTP status.
type RejectedError struct {
	StatusCode int
	Err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("stream: upgrade rejected with status %d: %v", e.StatusCode, e.Err)
}
func (e *RejectedError) Unwrap() error { return e.Err }

// Unauthorized reports whether the server refused the credentials.
func (e *RejectedError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// ProtocolError reports a grammar violation: a bad handshake, a malformed
// frame or a delta that does not fit the cached payload. It is fatal to the
// session.
type ProtocolError struct {
	Reason string
	Frame  string // offending frame, possibly truncated
}

func (e *ProtocolError) Error() string {
	if e.Frame == "" {
		return "stream: protocol error: " + e.Reason
	}
	return fmt.Sprintf("stream: protocol error: %s (frame %q)", e.Reason, e.Frame)
}

func protocolErr(frame, format string, args ...interface{}) *ProtocolError {
	const max = 200
	if len(frame) > max {
		frame = frame[:max] + "…"
	}
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Frame: frame}
}

// SubscriptionError is raised when the server pushed an E frame for a
// subscription. The subscription has already been removed; the caller may
// resubscribe with Request.
type SubscriptionError struct {
	ID      int64
	Request Request
	Payload json.RawMessage
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("stream: subscription %d (%s) failed: %s", e.ID, e.Request.Type(), string(e.Payload))
}

// TimeoutError is returned when a wait for one subscription exceeded its
// budget. The subscription has been unsubscribed.
type TimeoutError struct {
	ID      int64
	Request Request
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stream: subscription %d (%s): no response after %s", e.ID, e.Request.Type(), e.After)
}
