// Package failure defines the typed errors returned by every pipeline component.
// Each error carries a Kind so the orchestration layer can decide on retries and
// translate failures into user-facing messages without string matching.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = "unknown"
	// KindConfiguration means a voice or character mapping is missing. Fix upstream, do not retry.
	KindConfiguration Kind = "configuration"
	// KindProvider means the synthesis service or its auth endpoint failed. Retryable with backoff.
	KindProvider Kind = "provider"
	// KindEnvironment means an external tool is missing or cannot be launched.
	KindEnvironment Kind = "environment"
	// KindProcessing means an external tool ran and exited non-zero.
	KindProcessing Kind = "processing"
	// KindIntegrity means the output is missing or corrupt despite a success signal.
	KindIntegrity Kind = "integrity"
	// KindValidation covers malformed cache entries, bad WAV headers and missing inputs.
	KindValidation Kind = "validation"
	// KindCancelled means the caller cancelled the operation.
	KindCancelled Kind = "cancelled"
)

// Error is the typed failure returned by pipeline components.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op names the operation that failed, e.g. "synth.token" or "dsp.apply".
	Op string
	// Status is the upstream HTTP status for provider failures, zero otherwise.
	Status int
	// Detail holds bounded diagnostic output such as the tail of a tool's stderr.
	Detail string
	// Err is the underlying cause.
	Err error
}

// New creates an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += "\n" + e.Detail
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the orchestration layer may retry the operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindProvider
}

// Configuration wraps err as a configuration failure.
func Configuration(op string, err error) error { return New(KindConfiguration, op, err) }

// Environment wraps err as an environment failure.
func Environment(op string, err error) error { return New(KindEnvironment, op, err) }

// Integrity wraps err as an integrity failure.
func Integrity(op string, err error) error { return New(KindIntegrity, op, err) }

// Validation wraps err as a validation failure.
func Validation(op string, err error) error { return New(KindValidation, op, err) }

// Provider wraps err as a provider failure carrying the upstream status.
func Provider(op string, status int, err error) error {
	return &Error{Kind: KindProvider, Op: op, Status: status, Err: err}
}

// Processing wraps err as a processing failure with the tool's diagnostic output.
func Processing(op, detail string, err error) error {
	return &Error{Kind: KindProcessing, Op: op, Detail: detail, Err: err}
}

// Cancelled wraps a context error as a cancellation.
func Cancelled(op string, err error) error { return New(KindCancelled, op, err) }

// KindOf returns the Kind of err. Bare context errors map to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Is reports whether err is a failure of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err may be retried by the caller.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
