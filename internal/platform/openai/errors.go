package openai

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/storyforge-backend/internal/pkg/httpx"
)

// ErrorKind classifies a failed provider call.
type ErrorKind string

const (
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindTransportFailure    ErrorKind = "transport_failure"
	KindInvalidResponse     ErrorKind = "invalid_response"
	// KindRejected covers 4xx answers other than rate limiting; these are never retried.
	KindRejected ErrorKind = "rejected"
)

// ProviderError is returned for every failed call to the remote text or image endpoint.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("model provider ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if body := strings.TrimSpace(e.Body); body != "" {
		if len(body) > 300 {
			body = body[:300]
		}
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

var _ httpx.HTTPStatusCoder = (*ProviderError)(nil)

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// ValidationError reports a structurally valid response that lacks required stage keys.
type ValidationError struct {
	Stage   string
	Missing []string
	Detail  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("stage %s response invalid: %s", e.Stage, e.Detail)
	}
	return fmt.Sprintf("stage %s response missing required keys: %s", e.Stage, strings.Join(e.Missing, ", "))
}

// IsRetryable reports whether err is a provider failure worth another attempt.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case KindRateLimited, KindUpstreamUnavailable, KindTransportFailure, KindInvalidResponse:
		return true
	default:
		return false
	}
}

// KindOf returns the classification of err, or "" when err is not a provider error.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

var rateLimitMarkers = []string{
	"rate_limit",
	"ratelimit",
	"rate limit",
	"too many requests",
	"throttl",
	"quota exceeded",
}

func classifyStatus(status int, body string, retryAfter time.Duration) *ProviderError {
	pe := &ProviderError{StatusCode: status, Body: body, RetryAfter: retryAfter}
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusTooManyRequests:
		pe.Kind = KindRateLimited
	case status == http.StatusRequestTimeout:
		pe.Kind = KindTransportFailure
	case httpx.IsRetryableHTTPStatus(status):
		pe.Kind = KindUpstreamUnavailable
	case containsAny(lower, rateLimitMarkers):
		pe.Kind = KindRateLimited
	default:
		pe.Kind = KindRejected
	}
	return pe
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// transportError wraps a failed round trip. Causes below the network layer,
// such as an unsupported scheme or a bad certificate, are rejected rather
// than retried.
func transportError(err error) *ProviderError {
	cause := err
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		cause = ue.Err
	}
	if httpx.IsTransportError(cause) {
		return &ProviderError{Kind: KindTransportFailure, Err: err}
	}
	return &ProviderError{Kind: KindRejected, Err: err}
}

func invalidResponse(format string, args ...any) *ProviderError {
	return &ProviderError{Kind: KindInvalidResponse, Err: fmt.Errorf(format, args...)}
}
