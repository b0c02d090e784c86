package feed

import (
	"fmt"
)

type FetchErrorType string

const (
	FetchErrNetwork FetchErrorType = "network"
	FetchErrTimeout FetchErrorType = "timeout"
	FetchErrHTTP    FetchErrorType = "http"
	FetchErrRead    FetchErrorType = "read"
)

// FetchError is a failed feed retrieval. It is local to one feed.
type FetchError struct {
	Type       FetchErrorType
	StatusCode int
	URL        string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Type, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

type ParseReason string

const (
	ParseMalformed   ParseReason = "malformed"
	ParseUnsupported ParseReason = "unsupported"
)

// ParseError is returned for documents that are not well-formed XML or
// are neither RSS nor Atom.
type ParseError struct {
	Reason ParseReason
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

type ValidationCode string

const (
	ValidationInvalidURL   ValidationCode = "invalid_url"
	ValidationFetchError   ValidationCode = "fetch_error"
	ValidationHTTPError    ValidationCode = "http_error"
	ValidationEmptyContent ValidationCode = "empty_content"
	ValidationInvalidXML   ValidationCode = "invalid_xml"
	ValidationInvalidFeed  ValidationCode = "invalid_feed"
)

type ValidationError struct {
	Code    ValidationCode
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }
