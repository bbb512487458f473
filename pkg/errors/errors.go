// Package errors provides the structured error type shared by the cloudspi packages:
// error codes, categories, operational context and retry hints.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies a class of cloudspi failure.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeCircuitOpen       ErrorCode = "CONNECTION_CIRCUIT_OPEN"

	// Cache errors
	ErrCodeCacheNotFound     ErrorCode = "CACHE_NOT_FOUND"
	ErrCodeCacheTypeMismatch ErrorCode = "CACHE_TYPE_MISMATCH"
	ErrCodeCacheLoad         ErrorCode = "CACHE_LOAD"

	// Naming errors
	ErrCodeNameInvalid     ErrorCode = "NAME_INVALID"
	ErrCodeNamespaceLookup ErrorCode = "NAMESPACE_LOOKUP"

	// Provider state errors
	ErrCodeNotConnected       ErrorCode = "NOT_CONNECTED"
	ErrCodeInvalidContext     ErrorCode = "INVALID_CONTEXT"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeThrottled         ErrorCode = "THROTTLED"

	// Authentication/authorization errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeAccessDenied         ErrorCode = "ACCESS_DENIED"
	ErrCodeCredentialsMissing   ErrorCode = "CREDENTIALS_MISSING"
	ErrCodeCredentialsWiped     ErrorCode = "CREDENTIALS_WIPED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory is the coarse grouping of an error code.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryCache         ErrorCategory = "cache"
	CategoryNaming        ErrorCategory = "naming"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// CloudError is a structured error with context and handling hints.
type CloudError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *CloudError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *CloudError) Unwrap() error {
	return e.Cause
}

// Is matches another CloudError by code.
func (e *CloudError) Is(target error) bool {
	if other, ok := target.(*CloudError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CloudError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CloudError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON document.
func (e *CloudError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a CloudError with the defaults for its code.
func NewError(code ErrorCode, message string) *CloudError {
	return &CloudError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf creates a CloudError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CloudError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category of an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_CONFIG") || strings.HasPrefix(s, "MISSING_CONFIG") ||
		strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CONNECTION_") || strings.HasPrefix(s, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(s, "CACHE_"):
		return CategoryCache
	case strings.HasPrefix(s, "NAME_") || strings.HasPrefix(s, "NAMESPACE_"):
		return CategoryNaming
	case strings.HasPrefix(s, "NOT_CONNECTED") || strings.HasPrefix(s, "INVALID_CONTEXT") ||
		strings.HasPrefix(s, "INVALID_STATE") || strings.HasPrefix(s, "SHUTDOWN_"):
		return CategoryState
	case strings.HasPrefix(s, "OPERATION_") || strings.HasPrefix(s, "RETRY_") ||
		strings.HasPrefix(s, "THROTTLED"):
		return CategoryOperation
	case strings.HasPrefix(s, "AUTHENTICATION_") || strings.HasPrefix(s, "ACCESS_") ||
		strings.HasPrefix(s, "CREDENTIALS_"):
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a code is retryable unless overridden.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout, ErrCodeConnectionFailed, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeThrottled, ErrCodeInternalError:
		return true
	}
	return false
}

// IsUserFacingByDefault reports whether a code should be surfaced to operators verbatim.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation,
		ErrCodeCacheNotFound, ErrCodeNameInvalid, ErrCodeNotConnected,
		ErrCodeInvalidContext, ErrCodeAccessDenied, ErrCodeCredentialsMissing,
		ErrCodeOperationTimeout:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the admin API status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:        400,
		ErrCodeConfigValidation:     400,
		ErrCodeNameInvalid:          400,
		ErrCodeInvalidContext:       400,
		ErrCodeAuthenticationFailed: 401,
		ErrCodeCredentialsMissing:   401,
		ErrCodeAccessDenied:         403,
		ErrCodeCacheNotFound:        404,
		ErrCodeCacheTypeMismatch:    409,
		ErrCodeInvalidState:         409,
		ErrCodeNotConnected:         409,
		ErrCodeThrottled:            429,
		ErrCodeShutdownInProgress:   503,
		ErrCodeCircuitOpen:          503,
		ErrCodeOperationTimeout:     504,
		ErrCodeConnectionTimeout:    504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// CaptureStack captures the caller's stack for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds a context key/value.
func (e *CloudError) WithContext(key, value string) *CloudError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds a detail value.
func (e *CloudError) WithDetail(key string, value interface{}) *CloudError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *CloudError) WithComponent(component string) *CloudError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *CloudError) WithOperation(operation string) *CloudError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CloudError) WithCause(cause error) *CloudError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retry hint.
func (e *CloudError) WithRetryable(retryable bool) *CloudError {
	e.Retryable = retryable
	return e
}

// WithStack captures the current stack trace.
func (e *CloudError) WithStack() *CloudError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns a message suitable for an operator console.
func (e *CloudError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred. Please contact support if this persists."
	}
	return e.Message
}

// CodeOf extracts the ErrorCode from err, or ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	var ce *CloudError
	if As(err, &ce) {
		return ce.Code
	}
	return ErrCodeUnknownError
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return Is(err, &CloudError{Code: code})
}
