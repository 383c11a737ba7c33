package message

import (
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

// Reserved JSON-RPC error codes. Codes at or below -32000 are protocol errors;
// daemon application codes live above that range or are positive.
const (
	CodeParseError     = int(json2.E_PARSE)
	CodeInvalidRequest = int(json2.E_INVALID_REQ)
	CodeMethodNotFound = int(json2.E_NO_METHOD)
	CodeInvalidParams  = int(json2.E_BAD_PARAMS)
	CodeInternalError  = int(json2.E_INTERNAL)
	CodeServerError    = int(json2.E_SERVER)
)

// Application codes used by bitcoind-style daemons.
const (
	CodeMisc     = -1  // std::exception thrown in command handling
	CodeInWarmup = -28 // Client still warming up
)

// Error is the JSON-RPC error object. Code is stable and meaningful on its own;
// Message is for humans.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError builds an error object.
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf builds an error object with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying a diagnostic payload.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// IsReserved reports whether the code falls in the protocol-reserved range.
func (e *Error) IsReserved() bool {
	return e.Code >= -32768 && e.Code <= -32000
}

// ErrMethodNotFound is the dispatch-level answer for unregistered names.
func ErrMethodNotFound(method string) *Error {
	return Errorf(CodeMethodNotFound, "Method not found: %s", method)
}

// ErrInvalidParams reports params the handler could not use.
func ErrInvalidParams(reason string) *Error {
	return Errorf(CodeInvalidParams, "Invalid params: %s", reason)
}

// ErrInternal wraps an unstructured handler failure; the cause text travels as data.
func ErrInternal(cause error) *Error {
	e := NewError(CodeInternalError, "Internal error")
	if cause != nil {
		e.Data = cause.Error()
	}
	return e
}
