package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/lysyi3m/rss-planner/app/database"
)

const maxFeedBodySize = 10 << 20

type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

func NewFetcher(client *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Fetch performs a conditional GET for the feed using its stored ETag and
// Last-Modified values. Any 2xx is a success and 304 is not-modified.
func (f *Fetcher) Fetch(ctx context.Context, feed *database.Feed) *FetchOutcome {
	timeout := f.timeout
	if settings := DecodeSettings(feed.Settings); settings.Timeout > 0 {
		timeout = time.Duration(settings.Timeout) * time.Second
	}

	return f.get(ctx, feed.URL, feed.ETag, feed.LastModified, timeout)
}

func (f *Fetcher) get(ctx context.Context, url, etag, lastModified string, timeout time.Duration) *FetchOutcome {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return failure(&FetchError{Type: FetchErrNetwork, URL: url, Cause: err})
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := FetchErrNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FetchErrTimeout
		}
		return failure(&FetchError{Type: kind, URL: url, Cause: err})
	}
	defer resp.Body.Close()

	outcome := &FetchOutcome{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		outcome.Kind = FetchNotModified
		return outcome
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return failure(&FetchError{
			Type:       FetchErrHTTP,
			StatusCode: resp.StatusCode,
			URL:        url,
			Cause:      fmt.Errorf("unexpected status %s", resp.Status),
		})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		kind := FetchErrRead
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FetchErrTimeout
		}
		return failure(&FetchError{Type: kind, URL: url, Cause: err})
	}

	outcome.Kind = FetchSuccess
	outcome.Body = body
	return outcome
}

func failure(err *FetchError) *FetchOutcome {
	return &FetchOutcome{Kind: FetchFailure, StatusCode: err.StatusCode, Err: err}
}

// DecodeSettings reads the per-feed settings blob. Unknown keys are ignored
// and malformed values fall back to zero values.
func DecodeSettings(raw map[string]any) Settings {
	var settings Settings
	if len(raw) == 0 {
		return settings
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &settings,
	})
	if err != nil {
		return Settings{}
	}
	if err := decoder.Decode(raw); err != nil {
		return Settings{}
	}
	return settings
}
