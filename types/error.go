package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Precondition error codes. These are always returned synchronously,
// before any streaming begins.
const (
	ErrUnknownPersona      ErrorCode = "UNKNOWN_PERSONA"
	ErrInvalidParticipants ErrorCode = "INVALID_PARTICIPANTS"
	ErrEmptyTopic          ErrorCode = "EMPTY_TOPIC"
	ErrSessionBusy         ErrorCode = "SESSION_BUSY"
	ErrSymposiumNotActive  ErrorCode = "SYMPOSIUM_NOT_ACTIVE"
	ErrSymposiumActive     ErrorCode = "SYMPOSIUM_ACTIVE"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
)

// Inference failure codes. These are the only errors that may surface
// mid-stream, as a terminal error event.
const (
	ErrInferenceTimeout   ErrorCode = "INFERENCE_TIMEOUT"
	ErrConnectionRefused  ErrorCode = "CONNECTION_REFUSED"
	ErrModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrMalformedResponse  ErrorCode = "MALFORMED_RESPONSE"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
)

// Internal error codes.
const (
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
	ErrStoreFailure  ErrorCode = "STORE_FAILURE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Backend    string    `json:"backend,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithBackend sets the backend display name.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// IsInferenceFailure reports whether code is one of the inference failure
// codes that may legally appear mid-stream.
func IsInferenceFailure(code ErrorCode) bool {
	switch code {
	case ErrInferenceTimeout, ErrConnectionRefused, ErrModelNotFound,
		ErrMalformedResponse, ErrBackendUnavailable:
		return true
	}
	return false
}

// GetError coerces err to a structured *Error, wrapping foreign errors as
// internal errors so callers always have a code to report.
func GetError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(ErrInternalError, err.Error()).WithCause(err)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
