// Package errs provides the engine's error taxonomy: a small family of
// typed errors that callers can switch on to decide exit codes, HTTP-style
// status mapping, and retry behavior, instead of matching on strings.
package errs

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error classification.
type Code string

const (
	CodeInput       Code = "INPUT_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeStorage     Code = "STORAGE_ERROR"
	CodeEmbed       Code = "EMBED_ERROR"
	CodeIntegrity   Code = "INTEGRITY_ERROR"
	CodeCancelled   Code = "CANCELLED"
)

// taggedError is the common shape behind every exported error constructor.
type taggedError struct {
	code      Code
	message   string
	cause     error
	retryable bool
	exitCode  int
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *taggedError) Unwrap() error { return e.cause }

// Code returns the machine-readable classification.
func (e *taggedError) Code() Code { return e.code }

// Retryable reports whether the caller may retry the operation that produced this error.
func (e *taggedError) Retryable() bool { return e.retryable }

// ExitCode is the process exit code a CLI should use when this error reaches main.
func (e *taggedError) ExitCode() int { return e.exitCode }

// InputError reports bad user input: a missing path, unparseable JSON, an
// unknown CLI command. CLI callers exit 2; a dashboard would answer 400.
func InputError(format string, args ...interface{}) error {
	return &taggedError{code: CodeInput, message: fmt.Sprintf(format, args...), exitCode: 2}
}

// NotFoundError reports an absent chunk, session, or cluster. Callers
// typically turn this into an empty result rather than surfacing it.
func NotFoundError(format string, args ...interface{}) error {
	return &taggedError{code: CodeNotFound, message: fmt.Sprintf(format, args...), exitCode: 1}
}

// StorageError wraps a database or vector-store failure. The store and
// vector store fail fast with this; maintenance tasks downgrade it to a
// task-failure record instead of propagating.
func StorageError(cause error, format string, args ...interface{}) error {
	return &taggedError{code: CodeStorage, message: fmt.Sprintf(format, args...), cause: cause, exitCode: 1}
}

// EmbedError reports an embedder that is unavailable or timed out. Callers
// retry up to the ingestion pipeline's configured attempt limit; once
// exhausted it is fatal to the session being ingested.
func EmbedError(cause error, retryable bool, format string, args ...interface{}) error {
	return &taggedError{code: CodeEmbed, message: fmt.Sprintf(format, args...), cause: cause, retryable: retryable, exitCode: 1}
}

// IntegrityError reports a runtime invariant violation — an orphan vector,
// an edge with a missing endpoint. Always logged; self-healed where a
// maintenance task can do so, but never silently swallowed.
func IntegrityError(format string, args ...interface{}) error {
	return &taggedError{code: CodeIntegrity, message: fmt.Sprintf(format, args...), exitCode: 1}
}

// CancelledError reports caller-initiated cancellation. It always
// propagates without side effects — no partial transaction is committed.
func CancelledError(cause error) error {
	return &taggedError{code: CodeCancelled, message: "operation cancelled", cause: cause, exitCode: 1}
}

type coder interface{ Code() Code }
type retryabler interface{ Retryable() bool }
type exitCoder interface{ ExitCode() int }

// Is reports whether err (or anything it wraps) carries the given Code.
func Is(err error, code Code) bool {
	var c coder
	if errors.As(err, &c) {
		return c.Code() == code
	}
	return false
}

// Retryable reports whether err is marked retryable; unmarked errors are not.
func Retryable(err error) bool {
	var r retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ExitCode returns the CLI exit code associated with err, defaulting to 1
// for any error not produced by this package.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e exitCoder
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}
