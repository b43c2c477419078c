package jsonrpc

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned for requests on a closed message
	// connection, including requests still pending when it closed.
	ErrConnectionClosed = errors.New("jsonrpc: connection closed")

	// ErrUnsupportedParams indicates params that are not a positional array.
	ErrUnsupportedParams = errors.New("jsonrpc: only positional params are supported")

	// ErrMethodNotFound is returned by a RequestHandler that does not serve a
	// method, so the next handler can be tried.
	ErrMethodNotFound = errors.New("jsonrpc: method not found")

	// ErrEventName is returned when an event name is used as a method or a
	// method name as an event.
	ErrEventName = errors.New("jsonrpc: invalid event name")
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeRequestCancelled is used when the caller cancelled the request.
	CodeRequestCancelled = -32800
)

// ResponseError is the error object of a JSON-RPC response. Errors returned
// by a remote service reach the caller as *ResponseError.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResponseError creates a ResponseError.
func NewResponseError(code int, message string, data any) *ResponseError {
	return &ResponseError{Code: code, Message: message, Data: data}
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// toResponseError converts a handler error into its wire form.
func toResponseError(method string, err error) *ResponseError {
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, ErrMethodNotFound) {
		return NewResponseError(CodeMethodNotFound, fmt.Sprintf("Unhandled method %s", method), nil)
	}
	if errors.Is(err, ErrUnsupportedParams) {
		return NewResponseError(CodeInvalidParams, "only Array is supported for request params", nil)
	}
	return NewResponseError(CodeInternalError, fmt.Sprintf("Request %s failed with message: %s", method, err.Error()), nil)
}
