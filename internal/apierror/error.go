// Package apierror defines the gateway's wire-visible error kinds and the
// Anthropic error envelope they are serialised into.
package apierror

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rexl2018/aiapiproxy/internal/schema"
)

// Wire-visible error kinds.
const (
	KindInvalidRequest = "invalid_request_error"
	KindAuthentication = "authentication_error"
	KindBilling        = "billing_error"
	KindNotFound       = "not_found_error"
	KindRateLimit      = "rate_limit_error"
	KindAPI            = "api_error"
)

// Error is a classified gateway error. Kind determines both the HTTP status
// and the type string in the Anthropic envelope.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindBilling:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// Envelope is the Anthropic error body. The benign content/role/usage
// fields stop naive clients from crashing on missing fields.
type Envelope struct {
	Type    string             `json:"type"`
	Error   schema.ErrorDetail `json:"error"`
	Content []schema.ContentBlock `json:"content"`
	Role    string             `json:"role"`
	Usage   schema.Usage       `json:"usage"`
}

// Envelope builds the wire body for the error.
func (e *Error) Envelope() Envelope {
	return Envelope{
		Type:    "error",
		Error:   schema.ErrorDetail{Type: e.Kind, Message: e.Message},
		Content: []schema.ContentBlock{},
		Role:    "assistant",
	}
}

func newf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return newf(KindInvalidRequest, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return newf(KindAuthentication, format, args...)
}

func Billing(format string, args ...any) *Error { return newf(KindBilling, format, args...) }

func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

func RateLimit(format string, args ...any) *Error { return newf(KindRateLimit, format, args...) }

func API(format string, args ...any) *Error { return newf(KindAPI, format, args...) }

// From coerces any error into a classified one, defaulting to api_error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindAPI, Message: err.Error()}
}

// ClassifyUpstream turns an upstream HTTP failure into a classified error,
// matching known error phrases in the body when the status alone is not
// decisive.
func ClassifyUpstream(status int, body string) *Error {
	msg := fmt.Sprintf("upstream error (status %d): %s", status, body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuthentication, Message: msg}
	case http.StatusPaymentRequired:
		return &Error{Kind: KindBilling, Message: msg}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Message: msg}
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Message: msg}
	}
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "ratelimitexceeded") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit"):
		return &Error{Kind: KindRateLimit, Message: msg}
	case strings.Contains(lower, "insufficient_quota") || strings.Contains(lower, "quota exceeded"):
		return &Error{Kind: KindBilling, Message: msg}
	case strings.Contains(body, "401") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "unauthorized"):
		return &Error{Kind: KindAuthentication, Message: msg}
	case strings.Contains(lower, "model not found") || strings.Contains(lower, "does not exist"):
		return &Error{Kind: KindNotFound, Message: msg}
	}
	return &Error{Kind: KindAPI, Message: msg}
}
