package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/tasks"
)

func TestRenderFetchReports(t *testing.T) {
	var buf bytes.Buffer
	renderFetchReports(&buf, []tasks.FeedReport{
		{FeedID: 1, FeedName: "Go Blog", Outcome: feed.FetchSuccess, Total: 5, New: 3, Duplicates: 2, Matched: 1, Duration: 1500 * time.Millisecond},
		{FeedID: 2, FeedName: "Broken", Outcome: feed.FetchFailure, Err: errors.New("HTTP 500")},
	})

	out := buf.String()
	assert.Contains(t, out, "Go Blog (#1)")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "HTTP 500")
}

func TestRenderValidation(t *testing.T) {
	tests := []struct {
		name   string
		result *feed.ValidationResult
		err    error
		want   []string
	}{
		{
			name:   "valid",
			result: &feed.ValidationResult{Valid: true, Type: feed.DialectAtom, Title: "Example", ItemCount: 4},
			want:   []string{"atom", "Example", "true"},
		},
		{
			name: "invalid",
			err:  &feed.ValidationError{Code: feed.ValidationInvalidXML, Message: "Invalid XML format"},
			want: []string{"invalid_xml", "Invalid XML format", "false"},
		},
		{
			name: "other failure",
			err:  errors.New("context canceled"),
			want: []string{"context canceled", "false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderValidation(&buf, "https://example.com/feed", tt.result, tt.err)
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}
