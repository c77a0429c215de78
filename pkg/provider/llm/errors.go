package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited marks a recoverable failure: the backend is overloaded or
	// the request exceeded a quota. Retrying later may succeed.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrProviderFatal marks a non-recoverable failure: authentication errors,
	// malformed requests, timeouts and anything not known to be transient.
	ErrProviderFatal = errors.New("llm: provider fatal")
)

// rateLimitCodes are provider error codes that signal rate limiting.
var rateLimitCodes = []string{"rate_limit_exceeded", "rate_limit", "insufficient_quota", "tokens_exceeded"}

// ProviderError is the typed failure returned by provider bindings.
// It matches exactly one of [ErrRateLimited] or [ErrProviderFatal] under
// [errors.Is], and unwraps to the underlying SDK error.
type ProviderError struct {
	// Provider names the backend (e.g. "openai", "groq").
	Provider string

	// StatusCode is the HTTP status code, or 0 when unknown.
	StatusCode int

	// Code is the provider-specific error code, if any.
	Code string

	// RateLimited reports whether the failure is recoverable.
	RateLimited bool

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.RateLimited {
		kind = "rate limited"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Provider, kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, " [%s]", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Is reports whether target is the sentinel matching this failure's class.
func (e *ProviderError) Is(target error) bool {
	if e.RateLimited {
		return target == ErrRateLimited
	}
	return target == ErrProviderFatal
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies err by HTTP status and provider error code and
// returns a [*ProviderError]. Status 429 and the codes in rateLimitCodes are
// rate limits; everything else is fatal. A nil err returns nil.
func NewProviderError(provider string, statusCode int, code string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{
		Provider:    provider,
		StatusCode:  statusCode,
		Code:        code,
		RateLimited: isRateLimit(statusCode, code),
		Err:         err,
	}
}

// ClassifyError wraps an error whose shape is unknown (no status code
// available) by inspecting its text. Errors that already carry a
// classification are returned unchanged.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderFatal) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Err: err}
	}
	msg := strings.ToLower(err.Error())
	limited := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
	for _, c := range rateLimitCodes {
		if strings.Contains(msg, c) {
			limited = true
		}
	}
	return &ProviderError{Provider: provider, RateLimited: limited, Err: err}
}

func isRateLimit(statusCode int, code string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	code = strings.ToLower(code)
	for _, c := range rateLimitCodes {
		if code == c {
			return true
		}
	}
	return false
}
