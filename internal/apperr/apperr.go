// Package apperr defines the error taxonomy shared by the gateway and the
// HTTP layer. Every failure that reaches a client is an *Error whose Kind
// decides the status code and whose Message is safe to echo back.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindInternal is any unexpected failure. Its message is generic.
	KindInternal Kind = iota
	// KindInvalidInput covers malformed JSON, URLs and missing fields.
	KindInvalidInput
	// KindRateLimited means the client exceeded its request window.
	KindRateLimited
	// KindUpstreamTransient means the extractor kept reporting an anti-bot
	// challenge until the retry budget ran out.
	KindUpstreamTransient
	// KindUpstreamFatal is a permanent extractor failure (private video,
	// removed, auth required).
	KindUpstreamFatal
	// KindResourceLimit means an artifact exceeded the size cap.
	KindResourceLimit
	// KindNotFound is a missing file.
	KindNotFound
	// KindForbidden is a rejected file path (traversal or disallowed type).
	KindForbidden
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindInvalidInput:      "invalid_input",
	KindRateLimited:       "rate_limited",
	KindUpstreamTransient: "upstream_transient",
	KindUpstreamFatal:     "upstream_fatal",
	KindResourceLimit:     "resource_limit",
	KindNotFound:          "not_found",
	KindForbidden:         "forbidden",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Status maps a Kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindInvalidInput, KindUpstreamFatal:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindResourceLimit:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is client-facing; Err carries the
// underlying cause for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an *Error around err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// InternalMessage is returned to clients for unclassified failures.
const InternalMessage = "Internal server error"

// From extracts the classification of err. Unclassified errors become
// KindInternal with the generic message.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(KindInternal, InternalMessage, err)
}

// KindOf returns the Kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	return From(err).Kind
}
