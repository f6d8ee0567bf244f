// Package swarmerrors defines the error taxonomy every public kernel
// operation returns, per the error handling design: a caller either gets
// a well-typed result or one of these kinds, never a bare string.
package swarmerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a SwarmError for caller-side handling.
type Kind string

const (
	// InvalidArgument covers out-of-range counts, unknown agent ids,
	// unknown algorithm names. Never retried.
	InvalidArgument Kind = "invalid_argument"
	// Duplicate covers registering an existing agent or enqueuing an
	// existing task id. Reported and ignored by the caller.
	Duplicate Kind = "duplicate"
	// CapacityExceeded covers a full quota or insufficient tokens.
	CapacityExceeded Kind = "capacity_exceeded"
	// Timeout covers a consensus or state-sync deadline elapsing. Most
	// call sites surface this as a decision value (TIMEOUT) rather than
	// this error, but it remains available for operations with no
	// decision-value concept of their own (e.g. delta sync).
	Timeout Kind = "timeout"
	// NotInitialized covers using a component before its required
	// dependency (e.g. a MemoryProvider) has been supplied.
	NotInitialized Kind = "not_initialized"
	// Transient covers message delivery failures or background loop
	// hiccups; safe to retry once.
	Transient Kind = "transient"
	// Fatal covers corrupted internal invariants (e.g. quota underflow);
	// the owning subsystem should terminate after emitting a CRITICAL
	// alert, but the process itself keeps running.
	Fatal Kind = "fatal"
)

// Severity mirrors the severity scale used across alerts and failures.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SwarmError is the single structured error type every public kernel
// call returns. It is never just a string.
type SwarmError struct {
	Kind        Kind                   `json:"kind"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Severity    Severity               `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

func (e *SwarmError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *SwarmError) Unwrap() error { return e.Cause }

// Is lets errors.Is match purely on Kind when comparing two SwarmErrors.
func (e *SwarmError) Is(target error) bool {
	var other *SwarmError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newError(kind Kind, code, message string, severity Severity, recoverable bool, cause error) *SwarmError {
	return &SwarmError{
		Kind:        kind,
		Code:        code,
		Message:     message,
		Severity:    severity,
		Timestamp:   time.Now(),
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// NewInvalidArgument builds an InvalidArgument error.
func NewInvalidArgument(code, message string) *SwarmError {
	return newError(InvalidArgument, code, message, SeverityMedium, false, nil)
}

// NewDuplicate builds a Duplicate error.
func NewDuplicate(code, message string) *SwarmError {
	return newError(Duplicate, code, message, SeverityLow, false, nil)
}

// NewCapacityExceeded builds a CapacityExceeded error.
func NewCapacityExceeded(code, message string) *SwarmError {
	return newError(CapacityExceeded, code, message, SeverityMedium, true, nil)
}

// NewTimeout builds a Timeout error.
func NewTimeout(code, message string) *SwarmError {
	return newError(Timeout, code, message, SeverityMedium, true, nil)
}

// NewNotInitialized builds a NotInitialized error.
func NewNotInitialized(code, message string) *SwarmError {
	return newError(NotInitialized, code, message, SeverityHigh, false, nil)
}

// NewTransient builds a Transient error, safe to retry once.
func NewTransient(code, message string, cause error) *SwarmError {
	return newError(Transient, code, message, SeverityLow, true, cause)
}

// NewFatal builds a Fatal error: the owning subsystem should terminate
// after emitting a CRITICAL alert, but the process keeps running.
func NewFatal(code, message string, cause error) *SwarmError {
	return newError(Fatal, code, message, SeverityCritical, false, cause)
}

// WithDetails attaches structured detail fields and returns the receiver
// for chaining at the construction site.
func (e *SwarmError) WithDetails(details map[string]interface{}) *SwarmError {
	e.Details = details
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) a *SwarmError,
// returning ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var se *SwarmError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
