package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vnmchuo/careerkit-gateway/internal/logger"
)

type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindPayloadTooLarge ErrorKind = "payload_too_large"
	KindUnavailable     ErrorKind = "unavailable"
	KindUnknown         ErrorKind = "unknown"
)

// Error is the only error type adapters return across the router boundary.
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       Operation
	Err      error
}

// Kind sentinels for errors.Is.
var (
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrPayloadTooLarge = &Error{Kind: KindPayloadTooLarge}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrUnknown         = &Error{Kind: KindUnknown}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s", e.Op, msg)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind-only sentinels, so errors.Is(err, ErrRateLimited) works for
// any provider.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Provider != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind ErrorKind, providerName string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: err}
}

func Errorf(kind ErrorKind, providerName, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies any error. Errors that never passed through an adapter
// are unknown, except context deadlines which count as unavailability.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindUnknown
}

// IsTransient reports whether trying a different provider may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUnavailable:
		return true
	}
	return false
}

// IsTerminal reports whether the request itself is at fault.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindPayloadTooLarge:
		return true
	}
	return false
}

// Classify makes sure err is an *Error tagged with the provider and operation.
func Classify(providerName string, op Operation, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = providerName
		}
		if pe.Op == "" {
			pe.Op = op
		}
		return pe
	}
	return &Error{Kind: KindOf(err), Provider: providerName, Op: op, Err: err}
}

// FromStatus maps an upstream HTTP status to an error kind. The body is kept
// for logs only and truncated.
func FromStatus(providerName string, status int, body []byte) *Error {
	detail := fmt.Errorf("api error (status %d): %s", status, logger.TruncateForLog(string(body), 300))

	switch {
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, providerName, detail)
	case status == http.StatusRequestEntityTooLarge:
		return NewError(KindPayloadTooLarge, providerName, detail)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return NewError(KindInvalidInput, providerName, detail)
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusRequestTimeout, status >= 500:
		return NewError(KindUnavailable, providerName, detail)
	default:
		return NewError(KindUnknown, providerName, detail)
	}
}

var (
	errEmptyCV             = errors.New("cv text is empty")
	errEmptyJobDescription = errors.New("job description is empty")
	errEmptyCompletion     = errors.New("model returned no content")
)
