package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorCode is the closed set of machine-readable codes carried by every
// error envelope leaving the process.
type ErrorCode string

const (
	CodeValidationError       ErrorCode = "VALIDATION_ERROR"
	CodeInvalidSQL            ErrorCode = "INVALID_SQL"
	CodeMissingParameter      ErrorCode = "MISSING_PARAMETER"
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeDatabaseError         ErrorCode = "DATABASE_ERROR"
	CodeLLMTimeout            ErrorCode = "LLM_TIMEOUT"
	CodeLLMError              ErrorCode = "LLM_ERROR"
	CodeInternalError         ErrorCode = "INTERNAL_ERROR"
	CodeWebSocketError        ErrorCode = "WEBSOCKET_ERROR"
	CodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	CodePoolExhausted         ErrorCode = "CONNECTION_POOL_EXHAUSTED"
	CodeUnknownError          ErrorCode = "UNKNOWN_ERROR"
)

// AppError carries an error code alongside the wrapped cause. It satisfies
// errors.Is against the sentinel taxonomy through the wrapped chain.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError builds an AppError with the given code and message.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf resolves the envelope code for an arbitrary error. AppError codes
// win; sentinels map to their fixed codes; anything else is UNKNOWN_ERROR.
func CodeOf(err error) ErrorCode {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidRequest
	case errors.Is(err, ErrSQLUnsafe):
		return CodeInvalidSQL
	case errors.Is(err, ErrUpstreamTimeout):
		return CodeLLMTimeout
	case errors.Is(err, ErrUpstreamRateLimit), errors.Is(err, ErrRateLimited):
		return CodeServiceUnavailable
	case errors.Is(err, ErrPoolExhausted):
		return CodePoolExhausted
	case errors.Is(err, ErrNotFound):
		return CodeInvalidRequest
	case errors.Is(err, ErrInternal):
		return CodeInternalError
	}
	return CodeUnknownError
}

// ErrorEnvelope is the stable wire form of every surfaced error.
type ErrorEnvelope struct {
	ErrorCode  ErrorCode      `json:"error_code"`
	Message    string         `json:"message"`
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter *int           `json:"retry_after,omitempty"`
}

// NewEnvelope stamps a fresh request id and timestamp. The message must
// already be sanitized by the caller.
func NewEnvelope(code ErrorCode, message string, details map[string]any) ErrorEnvelope {
	return ErrorEnvelope{
		ErrorCode: code,
		Message:   message,
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}
