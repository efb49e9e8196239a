// services/archiver/pkg/credentials/credentials.go
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the observed lifetime of a session token.
const DefaultTTL = 290 * time.Second

// ErrEmpty is returned when a provider has neither a token nor cookies.
var ErrEmpty = errors.New("credentials: no token or cookies configured")

// Credentials is either a bearer token or a cookie set.
type Credentials struct {
	Token   string
	Cookies []*http.Cookie
}

// Empty reports whether neither identity form is set.
func (c Credentials) Empty() bool {
	return c.Token == "" && len(c.Cookies) == 0
}

// Header renders cookies into a request header for the websocket dial.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if len(c.Cookies) == 0 {
		return h
	}
	parts := make([]string, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	h.Set("Cookie", strings.Join(parts, "; "))
	return h
}

// Provider supplies a currently valid identity on demand.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Credentials, error)

func (f ProviderFunc) Credentials(ctx context.Context) (Credentials, error) { return f(ctx) }

// Static always returns the same credentials.
type Static struct {
	creds Credentials
}

// NewStatic builds a provider from a token and/or "name=value" cookie pairs.
func NewStatic(token string, cookies []string) (*Static, error) {
	c := Credentials{Token: strings.TrimSpace(token)}
	for _, raw := range cookies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("credentials: malformed cookie %q", raw)
		}
		c.Cookies = append(c.Cookies, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	if c.Empty() {
		return nil, ErrEmpty
	}
	return &Static{creds: c}, nil
}

func (s *Static) Credentials(context.Context) (Credentials, error) { return s.creds, nil }

// Refreshing caches the result of a refresh function for a fixed TTL.
type Refreshing struct {
	refresh ProviderFunc
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  Credentials
	expires time.Time
}

// NewRefreshing wraps refresh. ttl <= 0 means DefaultTTL.
func NewRefreshing(refresh ProviderFunc, ttl time.Duration) *Refreshing {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Refreshing{refresh: refresh, ttl: ttl, now: time.Now}
}

func (r *Refreshing) Credentials(ctx context.Context) (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cached.Empty() && r.now().Before(r.expires) {
		return r.cached, nil
	}
	c, err := r.refresh(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials: refresh: %w", err)
	}
	if c.Empty() {
		return Credentials{}, ErrEmpty
	}
	r.cached = c
	r.expires = r.now().Add(r.ttl)
	return c, nil
}

// Invalidate forces the next call to refresh.
func (r *Refreshing) Invalidate() {
	r.mu.Lock()
	r.expires = time.Time{}
	r.mu.Unlock()
}
