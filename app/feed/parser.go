package feed

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/lysyi3m/rss-planner/app/database"
)

type Parser struct {
	gofeedParser *gofeed.Parser
	now          func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		now:          time.Now,
	}
}

// Run parses an RSS or Atom document into normalized items. Items are
// attributed to source, which may be nil for ad-hoc parsing.
func (p *Parser) Run(raw []byte, source *database.Feed) (*Metadata, []Item, error) {
	dialect, err := DetectDialect(raw)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := p.gofeedParser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, &ParseError{Reason: ParseMalformed, Cause: err}
	}

	metadata := &Metadata{
		Dialect:     dialect,
		Title:       strings.TrimSpace(parsed.Title),
		Link:        parsed.Link,
		Description: parsed.Description,
		Language:    parsed.Language,
	}

	var (
		feedID     int64
		sourceSite = metadata.Title
	)
	if source != nil {
		feedID = source.ID
		sourceSite = cmp.Or(source.SourceSite, metadata.Title, hostOf(source.URL))
	}

	fetchedAt := p.now().UTC()
	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		item := p.normalizeItem(entry, fetchedAt)
		item.FeedID = feedID
		item.SourceSite = sourceSite
		item.ContentHash = ContentHash(item)
		items = append(items, item)
	}

	return metadata, items, nil
}

// normalizeItem maps both dialects onto Item. gofeed already resolves
// content:encoded and Atom content into Content, description and summary
// into Description, and the alternate link into Link.
func (p *Parser) normalizeItem(entry *gofeed.Item, fetchedAt time.Time) Item {
	item := Item{
		GUID:        strings.TrimSpace(entry.GUID),
		Title:       strings.TrimSpace(entry.Title),
		Link:        strings.TrimSpace(entry.Link),
		Description: entry.Description,
		Content:     cmp.Or(entry.Content, entry.Description),
		Author:      extractAuthor(entry),
		PublishedAt: fetchedAt,
	}

	switch {
	case entry.PublishedParsed != nil:
		item.PublishedAt = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		item.PublishedAt = entry.UpdatedParsed.UTC()
	}

	item.Categories = lo.Uniq(lo.Compact(lo.Map(entry.Categories, func(c string, _ int) string {
		return strings.TrimSpace(c)
	})))

	for _, enclosure := range entry.Enclosures {
		if enclosure == nil || enclosure.URL == "" {
			continue
		}
		e := Enclosure{URL: enclosure.URL, Type: enclosure.Type}
		if enclosure.Length != "" {
			if length, err := strconv.ParseInt(enclosure.Length, 10, 64); err == nil {
				e.Length = length
			}
		}
		item.Enclosures = append(item.Enclosures, e)
	}

	return item
}

func extractAuthor(entry *gofeed.Item) string {
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		return formatAuthor(entry.Authors[0].Name, entry.Authors[0].Email)
	}
	if entry.Author != nil {
		return formatAuthor(entry.Author.Name, entry.Author.Email)
	}
	return ""
}

func formatAuthor(name, email string) string {
	return cmp.Or(strings.TrimSpace(name), strings.TrimSpace(email))
}

// ContentHash fingerprints an item by its normalized title and text.
func ContentHash(item Item) string {
	content := strings.ToLower(item.Title) + "|" + strings.ToLower(StripTags(item.Content))
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
