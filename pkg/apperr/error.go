// Package apperr defines the gateway's structured error taxonomy.
//
// Every failure surfaced by a pipeline component is one of five kinds:
// invalid input, dependency timeout, dependency unavailable, policy drop,
// or internal. The kind decides retryability and the HTTP status the
// caller sees.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Permanent: schema, size, or type violations.
	CodeInputInvalid = "INPUT_INVALID"

	// Transient: classifier, sink, or forwarder exceeded its budget.
	CodeDependencyTimeout = "DEPENDENCY_TIMEOUT"

	// Capability returned an unrecoverable error. Transient when the
	// capability is advisory, permanent when it is critical.
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"

	// Not an error: ratelimit or dedup dropped the item.
	CodePolicyDrop = "POLICY_DROP"

	// Invariant violation. Never crashes the process.
	CodeInternal = "INTERNAL"

	CodeConfigError = "CONFIG_ERROR"
)

// AppError represents a structured gateway error.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`

	transient bool
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Transient reports whether the owning component may retry the operation.
func (e *AppError) Transient() bool {
	return e.transient
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code for the caller-facing response.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// InputInvalid marks a permanent schema, size, or type violation.
func InputInvalid(reason string) *AppError {
	return &AppError{
		Code:    CodeInputInvalid,
		Message: reason,
		Status:  http.StatusBadRequest,
	}
}

// InputTooLarge rejects an input exceeding the envelope byte cap.
func InputTooLarge(size, limit int64) *AppError {
	return &AppError{
		Code:    CodeInputInvalid,
		Message: fmt.Sprintf("input of %d bytes exceeds limit of %d", size, limit),
		Status:  http.StatusRequestEntityTooLarge,
		Details: map[string]any{"size_bytes": size, "max_bytes": limit},
	}
}

// UnknownKind rejects an input whose kind cannot be determined.
func UnknownKind(declared string) *AppError {
	return &AppError{
		Code:    CodeInputInvalid,
		Message: fmt.Sprintf("unsupported input kind %q", declared),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"kind": declared},
	}
}

// DependencyTimeout marks a capability call that exceeded its budget.
func DependencyTimeout(capability string, err error) *AppError {
	return &AppError{
		Code:      CodeDependencyTimeout,
		Message:   fmt.Sprintf("%s call exceeded budget", capability),
		Status:    http.StatusGatewayTimeout,
		Details:   map[string]any{"capability": capability},
		Err:       err,
		transient: true,
	}
}

// DependencyUnavailable marks a capability returning an unrecoverable
// error. critical=false keeps it retriable per component policy.
func DependencyUnavailable(capability string, critical bool, err error) *AppError {
	return &AppError{
		Code:      CodeDependencyUnavailable,
		Message:   fmt.Sprintf("%s unavailable", capability),
		Status:    http.StatusBadGateway,
		Details:   map[string]any{"capability": capability, "critical": critical},
		Err:       err,
		transient: !critical,
	}
}

// PolicyDrop records a ratelimit or dedup drop. The caller still
// receives success; the reason token lands in the audit entry.
func PolicyDrop(reason string) *AppError {
	return &AppError{
		Code:    CodePolicyDrop,
		Message: reason,
		Status:  http.StatusOK,
		Details: map[string]any{"drop_reason": reason},
	}
}

// Internal marks an invariant violation.
func Internal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsTransient reports whether err may be retried by its owner.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Transient()
	}
	return false
}

// IsPolicyDrop reports whether err is a ratelimit/dedup drop.
func IsPolicyDrop(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodePolicyDrop
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
