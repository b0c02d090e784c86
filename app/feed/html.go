package feed

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// StripTags returns the text content of an HTML fragment with whitespace
// collapsed.
func StripTags(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Excerpt returns at most limit runes of the stripped text, cut at a word
// boundary when possible.
func Excerpt(html string, limit int) string {
	text := StripTags(html)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)[:limit]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
