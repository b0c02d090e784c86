package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const validationTimeout = 15 * time.Second

type ValidationResult struct {
	Valid        bool    `json:"valid"`
	Type         Dialect `json:"type"`
	Title        string  `json:"title"`
	ItemCount    int     `json:"item_count"`
	ETag         string  `json:"etag,omitempty"`
	LastModified string  `json:"last_modified,omitempty"`
}

type Validator struct {
	fetcher *Fetcher
	parser  *Parser
}

func NewValidator(fetcher *Fetcher, parser *Parser) *Validator {
	return &Validator{fetcher: fetcher, parser: parser}
}

// Validate fetches rawURL unconditionally and checks that it is a
// well-formed RSS or Atom document. Failures are *ValidationError.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*ValidationResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Code: ValidationInvalidURL, Message: "Invalid URL format", Cause: err}
	}

	outcome := v.fetcher.get(ctx, rawURL, "", "", validationTimeout)
	switch outcome.Kind {
	case FetchFailure:
		if outcome.Err.Type == FetchErrHTTP {
			return nil, &ValidationError{
				Code:    ValidationHTTPError,
				Message: fmt.Sprintf("HTTP error: %d", outcome.StatusCode),
				Cause:   outcome.Err,
			}
		}
		return nil, &ValidationError{Code: ValidationFetchError, Message: outcome.Err.Cause.Error(), Cause: outcome.Err}
	case FetchNotModified:
		return nil, &ValidationError{Code: ValidationHTTPError, Message: "HTTP error: 304"}
	}

	if len(outcome.Body) == 0 {
		return nil, &ValidationError{Code: ValidationEmptyContent, Message: "Empty response from feed URL"}
	}

	metadata, items, err := v.parser.Run(outcome.Body, nil)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) && parseErr.Reason == ParseUnsupported {
			return nil, &ValidationError{Code: ValidationInvalidFeed, Message: "Not a valid RSS or Atom feed", Cause: err}
		}
		return nil, &ValidationError{Code: ValidationInvalidXML, Message: "Invalid XML: " + causeMessage(err), Cause: err}
	}

	return &ValidationResult{
		Valid:        true,
		Type:         metadata.Dialect,
		Title:        metadata.Title,
		ItemCount:    len(items),
		ETag:         outcome.ETag,
		LastModified: outcome.LastModified,
	}, nil
}

func causeMessage(err error) string {
	if cause := errors.Unwrap(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

// DefaultHTTPClient is shared by fetchers and the content extractor. Per
// request timeouts come from contexts.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
