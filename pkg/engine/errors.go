package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass classifies engine errors by how the scheduler reacts to them.
type ErrorClass string

const (
	// ErrorClassConfiguration covers missing definitions, unbound class
	// names and malformed chains. The affected run is aborted.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassCredential covers missing connections or tokens.
	ErrorClassCredential ErrorClass = "credential"

	// ErrorClassDependency covers an action whose source output is unavailable.
	ErrorClassDependency ErrorClass = "dependency"

	// ErrorClassHandler covers errors and panics raised by trigger or action
	// implementations, including call timeouts.
	ErrorClassHandler ErrorClass = "handler"

	// ErrorClassCancelled marks work interrupted by shutdown.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassStorage covers execution store failures.
	ErrorClassStorage ErrorClass = "storage"
)

// EngineError represents a classified error with zap context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	ZapID     string                 `json:"zap_id,omitempty"`
	StepID    string                 `json:"step_id,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.ZapID != "" {
		msg += fmt.Sprintf(" (zap=%s", e.ZapID)
		if e.StepID != "" {
			msg += fmt.Sprintf(", step=%s", e.StepID)
		}
		msg += ")"
	} else if e.StepID != "" {
		msg += fmt.Sprintf(" (step=%s)", e.StepID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewCredentialError creates a new credential error.
func NewCredentialError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCredential, Message: message, Err: err}
}

// NewDependencyError creates a new dependency error.
func NewDependencyError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassDependency, Message: message, Err: err}
}

// NewHandlerError creates a new handler error.
func NewHandlerError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassHandler, Message: message, Err: err}
}

// NewCancelledError creates a new cancellation error.
func NewCancelledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Message: message, Err: err}
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStorage, Message: message, Err: err}
}

// WithZap adds zap context to an error.
func (e *EngineError) WithZap(zapID string) *EngineError {
	e.ZapID = zapID
	return e
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// ClassOf returns the class of err, or "" for unclassified errors.
func ClassOf(err error) ErrorClass {
	c, _ := classOf(err)
	return c
}

// CodeOf returns the code of err, or "" for unclassified errors.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigurationError returns true if the error is a configuration error.
func IsConfigurationError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsCredentialError returns true if the error is a credential error.
func IsCredentialError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassCredential
}

// IsDependencyError returns true if the error is a dependency error.
func IsDependencyError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassDependency
}

// IsHandlerError returns true if the error came from a handler.
func IsHandlerError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassHandler
}

// IsCancelled returns true for cancellation errors and for bare context
// cancellation.
func IsCancelled(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	c, ok := classOf(err)
	return ok && c == ErrorClassCancelled
}

// Common error codes.
const (
	ErrCodeNoTriggerStep       = "NO_TRIGGER_STEP"
	ErrCodeDuplicateTrigger    = "DUPLICATE_TRIGGER_STEP"
	ErrCodeTriggerNotFound     = "TRIGGER_NOT_FOUND"
	ErrCodeActionNotFound      = "ACTION_NOT_FOUND"
	ErrCodeClassNotRegistered  = "CLASS_NOT_REGISTERED"
	ErrCodeConnectionNotFound  = "CONNECTION_NOT_FOUND"
	ErrCodeMissingSource       = "MISSING_SOURCE_STEP"
	ErrCodeSourceOutputMissing = "SOURCE_OUTPUT_MISSING"
	ErrCodePolicyDenied        = "POLICY_DENIED"
	ErrCodeHandlerFailed       = "HANDLER_FAILED"
	ErrCodeHandlerPanic        = "HANDLER_PANIC"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeShutdown            = "SHUTDOWN"
	ErrCodeStoreFailed         = "STORE_FAILED"
)

// ErrAlreadyClosed is returned when a record is closed a second time.
var ErrAlreadyClosed = errors.New("record already closed")
