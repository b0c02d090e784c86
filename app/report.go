package main

import (
	"errors"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/tasks"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderFetchReports(w io.Writer, reports []tasks.FeedReport) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Feed", "Outcome", "Items", "New", "Duplicates", "Matched", "Duration", "Error"})

	var totalNew, totalMatched int
	for _, r := range reports {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{
			tasks.FeedRef{ID: r.FeedID, Name: r.FeedName}.String(),
			string(r.Outcome),
			r.Total,
			r.New,
			r.Duplicates,
			r.Matched,
			r.Duration.Round(time.Millisecond),
			errText,
		})
		totalNew += r.New
		totalMatched += r.Matched
	}

	t.AppendFooter(table.Row{"Total", len(reports), "", totalNew, "", totalMatched, "", ""})
	t.Render()
}

func renderValidation(w io.Writer, rawURL string, result *feed.ValidationResult, err error) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"URL", rawURL})

	var validationErr *feed.ValidationError
	switch {
	case errors.As(err, &validationErr):
		t.AppendRow(table.Row{"Valid", false})
		t.AppendRow(table.Row{"Code", string(validationErr.Code)})
		t.AppendRow(table.Row{"Message", validationErr.Message})
	case err != nil:
		t.AppendRow(table.Row{"Valid", false})
		t.AppendRow(table.Row{"Message", err.Error()})
	default:
		t.AppendRow(table.Row{"Valid", result.Valid})
		t.AppendRow(table.Row{"Type", string(result.Type)})
		t.AppendRow(table.Row{"Title", result.Title})
		t.AppendRow(table.Row{"Items", result.ItemCount})
		if result.ETag != "" {
			t.AppendRow(table.Row{"ETag", result.ETag})
		}
		if result.LastModified != "" {
			t.AppendRow(table.Row{"Last-Modified", result.LastModified})
		}
	}

	t.Render()
}
