package stream

import (
	"errors"
	"testing"
)

func TestApply(t *testing.T) {
	cases := []struct {
		name, previous, diff, want string
	}{
		{"copy add skip", "abcdef", "=3\t+XY\t-1", "abcXY"},
		{"full copy", "abcdef", "=6", "abcdef"},
		{"replace middle", `{"a":1,"b":2}`, "=5\t-1\t+7\t=7", `{"a":7,"b":2}`},
		{"plus is space", "", "+hello+world", "hello world"},
		{"percent escapes", "", "+%7B%22x%22%3A1%7D", `{"x":1}`},
		{"tab in literal", "ab", "=1\t+%09\t=1", "a\tb"},
		{"malformed escape kept", "", "+100%+sure", "100% sure"},
		{"valid escapes beside malformed", "", "+%41%zz", "A%zz"},
		{"truncated escape at end", "", "+a%4", "a%4"},
		{"empty tokens ignored", "abc", "=1\t\t=2", "abc"},
		{"empty diff", "abc", "", ""},
		{"unicode counts runes", "héllo", "=2\t-3\t+y", "héy"},
		{"skip everything", "abc", "-3\t+new", "new"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Apply(c.previous, c.diff)
			if err != nil {
				t.Fatalf("Apply(%q, %q) error: %v", c.previous, c.diff, err)
			}
			if got != c.want {
				t.Errorf("Apply(%q, %q) = %q; want %q", c.previous, c.diff, got, c.want)
			}
		})
	}
}

func TestApply_Errors(t *testing.T) {
	cases := []struct {
		name, previous, diff string
	}{
		{"copy past end", "abc", "=4"},
		{"skip past end", "abc", "=2\t-2"},
		{"bad count", "abc", "=x"},
		{"negative count", "abc", "=-1"},
		{"unknown prefix", "abc", "*3"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Apply(c.previous, c.diff)
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProtocolError, got %v", err)
			}
		})
	}
}
