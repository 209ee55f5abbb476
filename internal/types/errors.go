package types

import (
	"fmt"
)

// ErrorCode is a typed string for categorizing subsystem errors.
type ErrorCode string

const (
	// Broker session
	ErrCodeBrokerChannelClosed ErrorCode = "broker_channel_closed"
	ErrCodeBrokerDeclareFailed ErrorCode = "broker_declare_failed"
	ErrCodeBrokerPublishFailed ErrorCode = "broker_publish_failed"
	ErrCodeBrokerAckFailed     ErrorCode = "broker_ack_failed"
	ErrCodeBrokerDialFailed    ErrorCode = "broker_dial_failed"

	// Inspection
	ErrCodeQueueNotFound ErrorCode = "queue_not_found"

	// Message content
	ErrCodeMessageInvalidJSON ErrorCode = "message_invalid_json"
	ErrCodeMessageInvalid     ErrorCode = "message_invalid"

	// Internal/Upstream
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
)

// AppError is the standard error type for the subsystem. It carries a
// machine-readable code alongside a human-readable message and an optional
// wrapped cause.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
