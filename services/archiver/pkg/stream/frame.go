// services/archiver/pkg/stream/frame.go
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ackFrame is the literal handshake acknowledgement.
const ackFrame = "connected"

// Handshake versions of the connect frame.
const (
	connectVersionToken  = 21
	connectVersionCookie = 31
)

// Request is the structured payload of a sub frame. Only "type" is
// interpreted locally.
type Request map[string]interface{}

// Type returns the request type or "" when absent.
func (r Request) Type() string {
	s, _ := r["type"].(string)
	return s
}

// Clone returns a shallow copy.
func (r Request) Clone() Request {
	out := make(Request, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FrameKind is the closed set of inbound frame codes.
type FrameKind byte

const (
	FrameAnswer FrameKind = 'A'
	FrameDelta  FrameKind = 'D'
	FrameClosed FrameKind = 'C'
	FrameError  FrameKind = 'E'
)

func (k FrameKind) String() string {
	switch k {
	case FrameAnswer:
		return "answer"
	case FrameDelta:
		return "delta"
	case FrameClosed:
		return "closed"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound frame "<id> <code><body>".
type Frame struct {
	ID   int64
	Kind FrameKind
	Body string
}

// ParseFrame decodes raw into a Frame. Leading whitespace of the body is
// dropped.
func ParseFrame(raw string) (Frame, error) {
	idStr, rest, ok := strings.Cut(raw, " ")
	if !ok || rest == "" {
		return Frame{}, protocolErr(raw, "frame without code")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		return Frame{}, protocolErr(raw, "bad subscription id %q", idStr)
	}
	kind := FrameKind(rest[0])
	switch kind {
	case FrameAnswer, FrameDelta, FrameClosed, FrameError:
	default:
		return Frame{}, protocolErr(raw, "unknown frame code %q", rest[:1])
	}
	return Frame{
		ID:   id,
		Kind: kind,
		Body: strings.TrimLeft(rest[1:], " \t\r\n"),
	}, nil
}

func connectFrame(version int, handshake interface{}) (string, error) {
	b, err := json.Marshal(handshake)
	if err != nil {
		return "", fmt.Errorf("stream: encode handshake: %w", err)
	}
	return fmt.Sprintf("connect %d %s", version, b), nil
}

func subFrame(id int64, payload []byte) string {
	return fmt.Sprintf("sub %d %s", id, payload)
}

func unsubFrame(id int64) string {
	return "unsub " + strconv.FormatInt(id, 10)
}
