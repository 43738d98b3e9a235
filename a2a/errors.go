package a2a

import (
	"errors"
	"fmt"
	"net/http"
)

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// --- Error Codes ---
// Standard JSON-RPC codes plus the A2A server error range.

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeTaskNotFound                 = -32001
	CodeTaskNotCancelable            = -32002
	CodePushNotificationNotSupported = -32003
	CodeUnsupportedOperation         = -32004
	CodeContentTypeNotSupported      = -32005
	CodeKnowledgeQueryError          = -32010
	CodeKnowledgeUpdateError         = -32011
	CodeKnowledgeSubscriptionError   = -32012
	CodeAlignmentViolationError      = -32013
)

// Error represents an A2A error with a corresponding JSON-RPC code.
type Error struct {
	Code    int    // The JSON-RPC error code.
	Message string // A human-readable error message.
	Data    any    // Optional additional data.
	cause   error  // Optional underlying error.
}

// Error implements the standard Go error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("a2a error: code=%d, message=%s, cause=%v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("a2a error: code=%d, message=%s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// ToJSONRPCError converts an A2A Error to a JSONRPCError struct.
func (e *Error) ToJSONRPCError() *JSONRPCError {
	return &JSONRPCError{
		Code:    e.Code,
		Message: e.Message,
		Data:    e.Data,
	}
}

// NewError creates a new A2A Error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new A2A Error with a formatted message.
func NewErrorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a new A2A Error that wraps an existing error.
func WrapError(cause error, code int, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WrapErrorf creates a new A2A Error that wraps an existing error with a
// formatted message.
func WrapErrorf(cause error, code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// AsError converts any error into an *Error, coercing unknown errors to
// the internal error code.
func AsError(err error) *Error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr
	}
	return ErrInternalError(err)
}

// HTTPStatus maps a JSON-RPC error code to the HTTP status used when the
// envelope itself is rejected. Domain errors inside a valid envelope stay 200.
func HTTPStatus(code int) int {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return http.StatusBadRequest
	case CodeMethodNotFound, CodeTaskNotFound:
		return http.StatusNotFound
	case CodeUnsupportedOperation:
		return http.StatusNotImplemented
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// --- Predefined Errors ---

func ErrParseError(cause error) *Error {
	return WrapError(cause, CodeParseError, "Invalid JSON payload")
}

func ErrInvalidRequest(message string) *Error {
	if message == "" {
		message = "Request payload validation error"
	}
	return NewError(CodeInvalidRequest, message)
}

func ErrMethodNotFound(method string) *Error {
	return NewErrorf(CodeMethodNotFound, "Method not found: %s", method)
}

func ErrInvalidParams(message string) *Error {
	if message == "" {
		message = "Invalid parameters"
	}
	return NewError(CodeInvalidParams, message)
}

func ErrInternalError(cause error) *Error {
	return WrapError(cause, CodeInternalError, "Internal error")
}

func ErrTaskNotFound(taskID string) *Error {
	return NewErrorf(CodeTaskNotFound, "Task not found: %s", taskID)
}

func ErrTaskNotCancelable(taskID string) *Error {
	return NewErrorf(CodeTaskNotCancelable, "Task cannot be canceled: %s", taskID)
}

func ErrPushNotificationNotSupported() *Error {
	return NewError(CodePushNotificationNotSupported, "Push Notification is not supported")
}

func ErrUnsupportedOperation(operation string) *Error {
	return NewErrorf(CodeUnsupportedOperation, "This operation is not supported: %s", operation)
}

func ErrContentTypeNotSupported(contentType string) *Error {
	return NewErrorf(CodeContentTypeNotSupported, "Incompatible content type: %s", contentType)
}

func ErrKnowledgeQuery(cause error) *Error {
	return WrapError(cause, CodeKnowledgeQueryError, "Knowledge query failed")
}

func ErrKnowledgeUpdate(cause error) *Error {
	return WrapError(cause, CodeKnowledgeUpdateError, "Knowledge update failed")
}

func ErrKnowledgeSubscription(cause error) *Error {
	return WrapError(cause, CodeKnowledgeSubscriptionError, "Knowledge subscription failed")
}

func ErrAlignmentViolation(details string) *Error {
	err := NewError(CodeAlignmentViolationError, "Proposed update violates alignment rules")
	if details != "" {
		err.Data = details
	}
	return err
}
