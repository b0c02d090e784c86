package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// DetectDialect walks the whole document, so malformed XML is reported even
// when the dialect is recognizable from the first elements. A root feed
// element means Atom; a channel element anywhere means RSS.
func DetectDialect(raw []byte) (Dialect, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charsetReader

	var (
		dialect Dialect
		root    = true
	)

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &ParseError{Reason: ParseMalformed, Cause: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		name := strings.ToLower(start.Name.Local)
		if root {
			root = false
			if name == "feed" {
				dialect = DialectAtom
			}
		}
		if dialect == "" && name == "channel" {
			dialect = DialectRSS
		}
	}

	if root {
		return "", &ParseError{Reason: ParseMalformed, Cause: errors.New("document has no root element")}
	}
	if dialect == "" {
		return "", &ParseError{Reason: ParseUnsupported, Cause: errors.New("neither an Atom feed nor an RSS channel")}
	}
	return dialect, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
