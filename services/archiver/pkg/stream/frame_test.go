package stream

import (
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	cases := []struct {
		raw  string
		want Frame
	}{
		{`1 A{"a":1}`, Frame{ID: 1, Kind: FrameAnswer, Body: `{"a":1}`}},
		{"12 D =3\t+x", Frame{ID: 12, Kind: FrameDelta, Body: "=3\t+x"}},
		{`7 C`, Frame{ID: 7, Kind: FrameClosed, Body: ""}},
		{`3 E {"errors":[]}`, Frame{ID: 3, Kind: FrameError, Body: `{"errors":[]}`}},
	}
	for _, c := range cases {
		got, err := ParseFrame(c.raw)
		if err != nil {
			t.Fatalf("ParseFrame(%q): %v", c.raw, err)
		}
		if got != c.want {
			t.Errorf("ParseFrame(%q) = %+v; want %+v", c.raw, got, c.want)
		}
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	for _, raw := range []string{"", "connected", "x A{}", "0 A{}", "5 ", "5 Z{}"} {
		_, err := ParseFrame(raw)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Errorf("ParseFrame(%q): expected *ProtocolError, got %v", raw, err)
		}
	}
}

func TestOutboundFrames(t *testing.T) {
	f, err := connectFrame(connectVersionToken, map[string]string{"locale": "en"})
	if err != nil {
		t.Fatal(err)
	}
	if f != `connect 21 {"locale":"en"}` {
		t.Errorf("connect frame = %q", f)
	}
	if got := subFrame(4, []byte(`{"type":"ticker"}`)); got != `sub 4 {"type":"ticker"}` {
		t.Errorf("sub frame = %q", got)
	}
	if got := unsubFrame(4); got != "unsub 4" {
		t.Errorf("unsub frame = %q", got)
	}
}
