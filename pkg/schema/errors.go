package schema

import "fmt"

// Error codes for structured error reporting.
const (
	// Compile-time codes.
	ErrCodeCompile   = "COMPILE_ERROR"
	ErrCodeReference = "REFERENCE_ERROR"
	ErrCodeCycle     = "CYCLE_DETECTED"

	// Configuration codes.
	ErrCodeRoutingConfig = "ROUTING_CONFIG_ERROR"

	// Runtime codes, retryable.
	ErrCodeTimeout     = "TIMEOUT_ERROR"
	ErrCodeRateLimited = "RATE_LIMITED"
	ErrCodeProvider    = "PROVIDER_ERROR"
	ErrCodeExecution   = "EXECUTION_ERROR"

	// Runtime codes, terminal.
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeAuth                 = "AUTH_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeLoopBoundExceeded    = "LOOP_BOUND_EXCEEDED"
	ErrCodeRetryExhausted       = "RETRY_EXHAUSTED"
	ErrCodeCancelled            = "CANCELLED"
	ErrCodeConnectorUnavailable = "CONNECTOR_UNAVAILABLE"
	ErrCodeStepFailed           = "STEP_FAILED"
	ErrCodeStore                = "STORE_ERROR"
	ErrCodeVault                = "VAULT_ERROR"

	// BudgetExhausted flags an overrun; it never aborts a step by itself.
	ErrCodeBudgetExhausted = "BUDGET_EXHAUSTED"
)

// WeftError is the structured error type for all weft operations.
type WeftError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WeftError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WeftError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error class warrants a retry with
// tier escalation. Only transient runtime classes qualify.
func (e *WeftError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeRateLimited, ErrCodeProvider, ErrCodeExecution, ErrCodeStore, ErrCodeStepFailed:
		return true
	default:
		return false
	}
}

// NewError creates a new WeftError.
func NewError(code, message string) *WeftError {
	return &WeftError{Code: code, Message: message}
}

// NewErrorf creates a new WeftError with a formatted message.
func NewErrorf(code, format string, args ...any) *WeftError {
	return &WeftError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *WeftError) WithStep(stepID string) *WeftError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *WeftError) WithCause(err error) *WeftError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WeftError) WithDetails(details map[string]any) *WeftError {
	e.Details = details
	return e
}
