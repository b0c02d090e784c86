package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-planner/app/database"
)

type fakeFeedState struct {
	feed    *database.Feed
	touched int
}

func (f *fakeFeedState) TouchLastFetch(_ context.Context, _ int64, at time.Time) error {
	f.touched++
	f.feed.LastFetch = database.NewTime(at)
	return nil
}

func (f *fakeFeedState) RecordFetchError(_ context.Context, _ int64, message string) (int, database.FeedStatus, error) {
	f.feed.ErrorCount++
	f.feed.ErrorMessage = message
	if f.feed.ErrorCount >= database.MaxFeedErrors {
		f.feed.Status = database.FeedStatusError
	}
	return f.feed.ErrorCount, f.feed.Status, nil
}

func (f *fakeFeedState) RecordFetchSuccess(_ context.Context, _ int64, etag, lastModified string) error {
	f.feed.ErrorCount = 0
	f.feed.ErrorMessage = ""
	f.feed.ETag = etag
	f.feed.LastModified = lastModified
	return nil
}

func newTestPoller(store FeedStateStore) *Poller {
	fetcher := NewFetcher(http.DefaultClient, "RSS-Planner/test", 5*time.Second)
	return NewPoller(store, fetcher, NewParser(), nil, nil)
}

func TestFetcher_ConditionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RSS-Planner/test", r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"v1"` && r.Header.Get("If-Modified-Since") == "Mon, 03 Jul 2023 10:00:00 GMT" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	fetcher := NewFetcher(http.DefaultClient, "RSS-Planner/test", 5*time.Second)

	first := fetcher.Fetch(context.Background(), &database.Feed{URL: server.URL})
	assert.Equal(t, FetchSuccess, first.Kind)
	assert.Equal(t, `"v1"`, first.ETag)
	assert.NotEmpty(t, first.Body)

	second := fetcher.Fetch(context.Background(), &database.Feed{
		URL:          server.URL,
		ETag:         `"v1"`,
		LastModified: "Mon, 03 Jul 2023 10:00:00 GMT",
	})
	assert.Equal(t, FetchNotModified, second.Kind)
	assert.Empty(t, second.Body)
}

func TestFetcher_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(300 * time.Millisecond)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher(http.DefaultClient, "RSS-Planner/test", 5*time.Second)

	outcome := fetcher.Fetch(context.Background(), &database.Feed{URL: server.URL})
	require.Equal(t, FetchFailure, outcome.Kind)
	assert.Equal(t, FetchErrHTTP, outcome.Err.Type)
	assert.Equal(t, "HTTP 500", outcome.Err.Error())

	fetcher = NewFetcher(http.DefaultClient, "RSS-Planner/test", 50*time.Millisecond)
	outcome = fetcher.Fetch(context.Background(), &database.Feed{URL: server.URL + "/slow"})
	require.Equal(t, FetchFailure, outcome.Kind)
	assert.Equal(t, FetchErrTimeout, outcome.Err.Type)
}

func TestFetcher_PerFeedTimeoutSetting(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	fetcher := NewFetcher(http.DefaultClient, "RSS-Planner/test", 10*time.Millisecond)
	outcome := fetcher.Fetch(context.Background(), &database.Feed{
		URL:      server.URL,
		Settings: database.JSONMap{"timeout": 5},
	})
	assert.Equal(t, FetchSuccess, outcome.Kind)
	assert.EqualValues(t, 1, hits.Load())
}

func TestPoller_NotModifiedLeavesErrorCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	store := &fakeFeedState{feed: &database.Feed{ID: 1, URL: server.URL, ETag: `"v1"`, ErrorCount: 2}}
	result, err := newTestPoller(store).Poll(context.Background(), store.feed)
	require.NoError(t, err)

	assert.Equal(t, FetchNotModified, result.Kind)
	assert.Empty(t, result.Items)
	assert.Equal(t, 2, store.feed.ErrorCount)
	assert.Equal(t, 1, store.touched)
	assert.False(t, store.feed.LastFetch.IsZero())
}

func TestPoller_FailuresDeactivateAndSuccessResets(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(atomFixture))
	}))
	defer server.Close()

	store := &fakeFeedState{feed: &database.Feed{ID: 1, URL: server.URL, Status: database.FeedStatusActive}}
	poller := newTestPoller(store)

	for i := 1; i <= database.MaxFeedErrors; i++ {
		result, err := poller.Poll(context.Background(), store.feed)
		require.NoError(t, err)
		assert.Equal(t, FetchFailure, result.Kind)
		assert.Equal(t, i, store.feed.ErrorCount)
	}
	assert.Equal(t, database.FeedStatusError, store.feed.Status)
	assert.Equal(t, "HTTP 502", store.feed.ErrorMessage)

	healthy.Store(true)
	result, err := poller.Poll(context.Background(), store.feed)
	require.NoError(t, err)
	assert.Equal(t, FetchSuccess, result.Kind)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 0, store.feed.ErrorCount)
	assert.Equal(t, `"v2"`, store.feed.ETag)
}

func TestPoller_ParseFailureCountsAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>not a feed</body></html>`))
	}))
	defer server.Close()

	store := &fakeFeedState{feed: &database.Feed{ID: 1, URL: server.URL}}
	result, err := newTestPoller(store).Poll(context.Background(), store.feed)
	require.NoError(t, err)

	assert.Equal(t, FetchFailure, result.Kind)
	var parseErr *ParseError
	assert.True(t, errors.As(result.Err, &parseErr))
	assert.Equal(t, 1, store.feed.ErrorCount)
}

type fakeLookup struct {
	guids, urls, hashes map[string]bool
}

func (f *fakeLookup) ContentRecordExistsByGUID(_ context.Context, guid string) (bool, error) {
	return f.guids[guid], nil
}

func (f *fakeLookup) ContentRecordExistsByURL(_ context.Context, url string) (bool, error) {
	return f.urls[url], nil
}

func (f *fakeLookup) ContentRecordExistsByHash(_ context.Context, hash string) (bool, error) {
	return f.hashes[hash], nil
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	lookup := &fakeLookup{
		guids:  map[string]bool{"g1": true},
		urls:   map[string]bool{"https://example.com/a": true},
		hashes: map[string]bool{"h1": true},
	}
	ctx := context.Background()

	tests := []struct {
		name         string
		item         Item
		hashFallback bool
		want         bool
	}{
		{"guid match", Item{GUID: "g1", Link: "https://example.com/new"}, true, true},
		{"link match with new guid", Item{GUID: "g2", Link: "https://example.com/a"}, true, true},
		{"new item", Item{GUID: "g2", Link: "https://example.com/b", ContentHash: "h1"}, true, false},
		{"hash fallback", Item{ContentHash: "h1"}, true, true},
		{"hash fallback disabled", Item{ContentHash: "h1"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup, err := NewDeduplicator(lookup, tt.hashFallback).IsDuplicate(ctx, tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dup)
		})
	}
}

func TestDecodeSettings(t *testing.T) {
	settings := DecodeSettings(map[string]any{"extract_content": true, "max_items": "20", "timeout": 15.0, "unknown": 1})
	assert.True(t, settings.ExtractContent)
	assert.Equal(t, 20, settings.MaxItems)
	assert.Equal(t, 15, settings.Timeout)

	assert.Equal(t, Settings{}, DecodeSettings(nil))
}
