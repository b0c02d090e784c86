package webhook

import (
	"fmt"
)

type DispatchErrorKind string

const (
	DispatchNotFound    DispatchErrorKind = "not_found"
	DispatchRateLimited DispatchErrorKind = "rate_limited"
	DispatchTransport   DispatchErrorKind = "transport"
	DispatchHTTP        DispatchErrorKind = "http"
	DispatchInternal    DispatchErrorKind = "internal"
)

// DispatchError is returned when a content payload could not be handed to
// a workflow. ExecutionID is empty when no execution was created.
type DispatchError struct {
	Kind        DispatchErrorKind
	WebhookID   int64
	ExecutionID string
	StatusCode  int
	Cause       error
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case DispatchNotFound:
		return fmt.Sprintf("webhook %d not found or inactive", e.WebhookID)
	case DispatchHTTP:
		return fmt.Sprintf("webhook %d returned HTTP %d", e.WebhookID, e.StatusCode)
	case DispatchRateLimited:
		return fmt.Sprintf("webhook %d dispatch refused by the rate limit", e.WebhookID)
	}
	return fmt.Sprintf("webhook %d dispatch failed (%s): %v", e.WebhookID, e.Kind, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

type CallbackAuthError struct {
	Reason string
}

func (e *CallbackAuthError) Error() string {
	return "callback unauthorized: " + e.Reason
}

type CallbackNotFoundError struct {
	ExecutionID string
}

func (e *CallbackNotFoundError) Error() string {
	return fmt.Sprintf("execution %q not found", e.ExecutionID)
}

type CallbackValidationError struct {
	Message string
}

func (e *CallbackValidationError) Error() string {
	return "invalid callback payload: " + e.Message
}
