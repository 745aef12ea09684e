package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrWorkflowNotFound           = "WORKFLOW_NOT_FOUND"
	ErrWorkflowState              = "WORKFLOW_STATE_ERROR"
	ErrWorkflowTransition         = "WORKFLOW_TRANSITION_ERROR"
	ErrWorkflowPermission         = "WORKFLOW_PERMISSION_ERROR"
	ErrConditionEvaluation        = "CONDITION_EVALUATION_ERROR"
	ErrIllegalLifecycleTransition = "ILLEGAL_LIFECYCLE_TRANSITION"
)

// ErrorEnvelope is the standard error value returned by the engine and
// rendered by the HTTP layer. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the code of the first ErrorEnvelope in err's chain, or
// INTERNAL_ERROR when there is none.
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ErrInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var env *ErrorEnvelope
	return errors.As(err, &env) && env.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewWorkflowNotFoundError returns a WORKFLOW_NOT_FOUND error.
func NewWorkflowNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotFound, Message: msg}
}

// NewWorkflowStateError is raised when a document's state is missing or not
// part of its workflow.
func NewWorkflowStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowState, Message: msg}
}

// NewWorkflowTransitionError is raised when no transition matches the
// requested action, or the target state is not defined.
func NewWorkflowTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowTransition, Message: msg}
}

// NewWorkflowPermissionError is raised when the acting user may not perform
// a transition or state change.
func NewWorkflowPermissionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowPermission, Message: msg}
}

// NewConditionEvaluationError wraps a failure to parse or evaluate a
// condition expression.
func NewConditionEvaluationError(expr string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConditionEvaluation,
		Message: fmt.Sprintf("evaluating %q: %v", expr, cause),
		cause:   cause,
	}
}

// NewIllegalLifecycleTransitionError is raised when a state change would
// move a document between docstatus values that have no lifecycle operation.
func NewIllegalLifecycleTransitionError(from, to DocStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrIllegalLifecycleTransition,
		Message: fmt.Sprintf("Illegal Document Status for %s to %s", from, to),
	}
}
