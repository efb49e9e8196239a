package documents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/logger"
)

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 5}, logger.NewNop())
	body, err := f.Fetch(context.Background(), srv.URL+"/doc.pdf?sig=1")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "%PDF-1.7" || calls.Load() != 3 {
		t.Errorf("body = %q calls = %d", body, calls.Load())
	}
}

func TestHTTPFetcher_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), backoff.Config{InitialInterval: time.Millisecond, MaxAttempts: 5}, logger.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d; want 1", calls.Load())
	}
}
