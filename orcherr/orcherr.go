// Package orcherr provides structured error types for the orchestrator's
// externally observable failure kinds (spec §7). Each kind preserves message
// and causal context while implementing the standard error interface, so
// callers can use errors.As/errors.Is across retries and plan boundaries.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind discriminates the externally observable error kinds from spec §7.
type Kind string

const (
	// KindInvalidDelegation is a validation failure, fatal to the owning task.
	// It never propagates to the plan.
	KindInvalidDelegation Kind = "invalid_delegation"
	// KindRejected is an admission refusal (ResourceExhausted, RateLimited,
	// PlanTooLarge — see Reason).
	KindRejected Kind = "rejected"
	// KindNoSuitableWorker reports no capability match and no spawn capacity;
	// treated as transient and retried.
	KindNoSuitableWorker Kind = "no_suitable_worker"
	// KindTransient covers worker crash, channel I/O error, or heartbeat loss;
	// retried per the task's retry policy.
	KindTransient Kind = "transient"
	// KindUnresponsive reports a heartbeat-miss threshold breach.
	KindUnresponsive Kind = "unresponsive"
	// KindTimeout reports a task or plan deadline expiry.
	KindTimeout Kind = "timeout"
	// KindProtocolError reports a malformed worker message or size-limit
	// breach; fatal to the task.
	KindProtocolError Kind = "protocol_error"
	// KindToolError is surfaced from the ToolBackend verbatim; fatal or
	// retried per the task's retry policy.
	KindToolError Kind = "tool_error"
	// KindCancelled is a caller-initiated cancellation.
	KindCancelled Kind = "cancelled"
)

// RejectReason enumerates the admission-rejection reasons reported under
// KindRejected.
type RejectReason string

const (
	ReasonResourceExhausted RejectReason = "resource_exhausted"
	ReasonRateLimited       RejectReason = "rate_limited"
	ReasonPlanTooLarge      RejectReason = "plan_too_large"
)

// Error is a structured orchestrator failure. It nests via Cause so error
// chains survive retries and cross task/plan boundaries while still
// supporting errors.Is/As through Unwrap.
type Error struct {
	// Kind is the externally observable failure kind.
	Kind Kind
	// Reason narrows KindRejected into one of the admission-rejection reasons.
	Reason RejectReason
	// TaskID identifies the task the error is attributed to, when applicable.
	TaskID string
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, enabling error chains.
	Cause error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Rejected constructs a KindRejected error carrying reason.
func Rejected(reason RejectReason, message string) *Error {
	e := New(KindRejected, message)
	e.Reason = reason
	return e
}

// ForTask constructs an Error attributed to taskID.
func ForTask(taskID string, kind Kind, message string) *Error {
	e := New(kind, message)
	e.TaskID = taskID
	return e
}

// Wrap constructs an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf formats according to a format specifier and returns the result as an
// Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.TaskID != "" {
		return fmt.Sprintf("%s: %s (task=%s)", e.Kind, e.Message, e.TaskID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target shares the same Kind, so callers can test with
// errors.Is(err, orcherr.New(orcherr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// IsRetryable reports whether kind is eligible for the retry policy described
// in spec §4.7 (Transient, Unresponsive, NoSuitableWorker). Fatal kinds
// (InvalidDelegation, ProtocolError) never retry.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransient, KindUnresponsive, KindNoSuitableWorker:
		return true
	default:
		return false
	}
}
