// Package apperr defines the structural error kinds shared across the
// retrieval and ingestion pipelines.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it (HTTP
// status mapping, retry policy, logging severity).
type Kind string

const (
	// KindDatabase is a store transport/parse failure. Not locally
	// recoverable for retrieval; propagated as InternalError there.
	KindDatabase Kind = "database"
	// KindEmbedding covers embedding/chat-completion transport failures.
	// Transient; retried in ingestion, fatal to the current request in
	// retrieval.
	KindEmbedding Kind = "embedding"
	// KindProcessing is a content-extraction failure (bad PDF, low
	// quality vision output).
	KindProcessing Kind = "processing"
	// KindNotFound means a queried id is absent. Visible to callers.
	KindNotFound Kind = "not_found"
	// KindAuth is an ownership violation.
	KindAuth Kind = "auth"
	// KindValidation is an invalid state transition, malformed
	// reference, or invalid tuning parameter.
	KindValidation Kind = "validation"
	// KindInternal marks a broken invariant: missing embedding, guard
	// failure, stage-machine violation. These are bugs.
	KindInternal Kind = "internal"
)

// Error is the concrete error type carrying a Kind alongside a message
// and optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a Kind-tagged error from a message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err
// carries no Kind of its own.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
