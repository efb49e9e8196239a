// services/archiver/internal/documents/fetcher.go
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/YaganovValera/broker-archive/common/backoff"
	"github.com/YaganovValera/broker-archive/common/logger"
)

// Fetcher downloads the body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

// HTTPFetcher fetches over HTTP, retrying 5xx, 429 and transport errors.
type HTTPFetcher struct {
	client *http.Client
	retry  backoff.Config
	log    *logger.Logger
}

func NewHTTPFetcher(client *http.Client, retry backoff.Config, log *logger.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, retry: retry, log: log.Named("fetch")}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := backoff.Execute(ctx, "document-fetch", f.retry, f.log, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			serr := &StatusError{Code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		var mr *backoff.ErrMaxRetries
		if errors.As(err, &mr) {
			return nil, mr.Err
		}
		return nil, err
	}
	return body, nil
}
