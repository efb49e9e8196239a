// services/archiver/pkg/stream/delta.go
package stream

import (
	"net/url"
	"strconv"
	"strings"
)

// Apply rebuilds a payload from the previous one and a diff.
//
// The diff is a tab separated list of tokens:
//
//	+text  append text (query-unescaped, '+' means space)
//	=n     copy the next n characters of previous
//	-n     skip the next n characters of previous
//
// Counts are in Unicode code points.
func Apply(previous, diff string) (string, error) {
	prev := []rune(previous)
	cursor := 0

	var out strings.Builder
	out.Grow(len(previous) + len(diff))

	for _, tok := range strings.Split(diff, "\t") {
		if tok == "" {
			continue
		}
		switch tok[0] {
		case '+':
			out.WriteString(unescapeLiteral(tok[1:]))
		case '=', '-':
			n, err := strconv.Atoi(tok[1:])
			if err != nil || n < 0 {
				return "", protocolErr(diff, "delta: bad count in token %q", tok)
			}
			if n > len(prev)-cursor {
				return "", protocolErr(diff, "delta: token %q needs %d characters, %d left", tok, n, len(prev)-cursor)
			}
			if tok[0] == '=' {
				out.WriteString(string(prev[cursor : cursor+n]))
			}
			cursor += n
		default:
			return "", protocolErr(diff, "delta: unknown token %q", tok)
		}
	}
	return out.String(), nil
}

// unescapeLiteral decodes like QueryUnescape but keeps malformed percent
// sequences as they are instead of failing.
func unescapeLiteral(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}
