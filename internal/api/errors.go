package api

import (
	"errors"
	"fmt"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
)

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
	ErrServerError    = -32000
	ErrPinNotFound    = -32001
	ErrFeatureOff     = -32002
	ErrNoHistory      = -32003
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func invalidParams(format string, args ...interface{}) *Error {
	return NewError(ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// errorCode maps a handler error to its JSON-RPC code and message
func errorCode(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Code == ErrInvalidParams {
			return apiErr.Code, "Invalid params"
		}
		return apiErr.Code, apiErr.Message
	case errors.Is(err, manager.ErrUnknownPin):
		return ErrPinNotFound, "Pin not found"
	case errors.Is(err, manager.ErrDisabled):
		return ErrFeatureOff, "Map lifecycle disabled"
	case errors.Is(err, lifecycle.ErrInvalidPin),
		errors.Is(err, lifecycle.ErrDuplicatePin),
		errors.Is(err, lifecycle.ErrUnknownTab):
		return ErrInvalidParams, "Invalid params"
	}
	return ErrServerError, "Server error"
}
