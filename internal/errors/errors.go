// Package errors provides structured error types for the wayfind DAP core.
//
// Errors carry a machine-readable code alongside the human-readable message
// so that callers can distinguish recoverable failures (a timed-out wait)
// from fatal ones (a malformed frame) without string matching. Session-level
// failures additionally name the lifecycle phase that failed.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode categorizes an error for programmatic handling.
type ErrorCode string

const (
	// Wire errors. Fatal to the connection they occurred on.
	CodeFraming       ErrorCode = "FRAMING_ERROR"
	CodeHeader        ErrorCode = "HEADER_ERROR"
	CodeTruncatedBody ErrorCode = "TRUNCATED_BODY"

	// Wait errors. Recoverable; the connection stays usable.
	CodeResponseTimeout ErrorCode = "RESPONSE_TIMEOUT"
	CodeEventTimeout    ErrorCode = "EVENT_TIMEOUT"

	// A response arrived with success=false. The caller decides whether the
	// session survives.
	CodeAdapterError ErrorCode = "ADAPTER_ERROR"

	// Transport errors (connect, write, unexpected close). Fatal to the
	// affected connection only.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"

	// Connection already dead: its receive loop has terminated.
	CodeConnClosed ErrorCode = "CONNECTION_CLOSED"

	// Session errors.
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionPhase        ErrorCode = "SESSION_PHASE_FAILED"

	// Adapter process errors.
	CodeSpawnFailed   ErrorCode = "ADAPTER_SPAWN_FAILED"
	CodeConnectFailed ErrorCode = "ADAPTER_CONNECT_FAILED"
	CodeNotSupported  ErrorCode = "ADAPTER_NOT_SUPPORTED"
)

// DebugError is the structured error type used across the protocol core.
type DebugError struct {
	// Code is a machine-readable error category.
	Code ErrorCode `json:"code"`

	// Message describes what went wrong.
	Message string `json:"message"`

	// Phase names the session lifecycle phase that failed, when known
	// (initialize, launch, attach, breakpoints, configure, stopped-wait,
	// evaluate, continue, terminate).
	Phase string `json:"phase,omitempty"`

	// Details holds additional context, e.g. the command or event name.
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *DebugError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s phase: %s", e.Phase, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chaining.
func (e *DebugError) Unwrap() error { return e.Cause }

// Is matches DebugErrors by code, so sentinel-style comparisons work:
//
//	errors.Is(err, &DebugError{Code: CodeResponseTimeout})
func (e *DebugError) Is(target error) bool {
	var de *DebugError
	if !stderrors.As(target, &de) {
		return false
	}
	return e.Code == de.Code
}

// WithDetails adds a detail entry to the error.
func (e *DebugError) WithDetails(key string, value any) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// InPhase tags the error with a session lifecycle phase.
func (e *DebugError) InPhase(phase string) *DebugError {
	e.Phase = phase
	return e
}

// ResponseTimeout reports that no response for the given request seq arrived
// within the deadline.
func ResponseTimeout(seq int, timeout time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeResponseTimeout,
		Message: fmt.Sprintf("no response for request seq %d within %s", seq, timeout),
		Details: map[string]any{"seq": seq, "timeout": timeout.String()},
	}
}

// EventTimeout reports that the named event never arrived within the
// deadline.
func EventTimeout(event string, timeout time.Duration) *DebugError {
	return &DebugError{
		Code:    CodeEventTimeout,
		Message: fmt.Sprintf("no %q event within %s", event, timeout),
		Details: map[string]any{"event": event, "timeout": timeout.String()},
	}
}

// AdapterError reports a response with success=false, carrying the
// adapter-provided failure message.
func AdapterError(command, message string) *DebugError {
	if message == "" {
		message = "adapter reported failure"
	}
	return &DebugError{
		Code:    CodeAdapterError,
		Message: fmt.Sprintf("%s failed: %s", command, message),
		Details: map[string]any{"command": command},
	}
}

// Transport wraps a connect/read/write failure.
func Transport(op string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTransport,
		Message: fmt.Sprintf("transport %s: %v", op, err),
		Cause:   err,
	}
}

// ConnClosed reports an operation on a connection whose receive loop has
// already terminated.
func ConnClosed(reason error) *DebugError {
	msg := "connection closed"
	if reason != nil {
		msg = fmt.Sprintf("connection closed: %v", reason)
	}
	return &DebugError{Code: CodeConnClosed, Message: msg, Cause: reason}
}

// SessionNotFound reports an unknown session id.
func SessionNotFound(id string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session %q not found", id),
		Details: map[string]any{"sessionId": id},
	}
}

// SessionLimitReached reports that the session cap is hit.
func SessionLimitReached(max int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", max),
		Details: map[string]any{"maxSessions": max},
	}
}

// SpawnFailed reports a debug adapter that could not be started.
func SpawnFailed(adapter string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to spawn %s: %v", adapter, err),
		Cause:   err,
		Details: map[string]any{"adapter": adapter},
	}
}

// ConnectFailed reports a debug adapter endpoint that could not be reached.
func ConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeConnectFailed,
		Message: fmt.Sprintf("failed to connect to adapter at %s: %v", address, err),
		Cause:   err,
		Details: map[string]any{"address": address},
	}
}

// NotSupported reports a language with no registered adapter.
func NotSupported(language string) *DebugError {
	return &DebugError{
		Code:    CodeNotSupported,
		Message: fmt.Sprintf("no debug adapter available for language: %s", language),
		Details: map[string]any{"language": language},
	}
}

// Phase wraps err as a session failure in the named lifecycle phase. When
// err is already a DebugError its code is preserved and only the phase tag
// is added.
func Phase(phase string, err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		tagged := *de
		tagged.Phase = phase
		return &tagged
	}
	return &DebugError{
		Code:    CodeSessionPhase,
		Message: err.Error(),
		Phase:   phase,
		Cause:   err,
	}
}

// Wrap builds a DebugError around an arbitrary error.
func Wrap(code ErrorCode, message string, err error) *DebugError {
	return &DebugError{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the ErrorCode from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsTimeout reports whether err is a response or event wait timeout.
func IsTimeout(err error) bool {
	c := CodeOf(err)
	return c == CodeResponseTimeout || c == CodeEventTimeout
}
