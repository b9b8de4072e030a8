// Package apperr defines the error taxonomy the router and the
// downstream session layer use to translate internal failures into
// JSON-RPC error replies.
package apperr

import (
	"errors"
	"fmt"

	"github.com/slzcdhd/1mcp/internal/jsonrpc"
)

// Kind identifies one of the error categories surfaced at the
// downstream boundary.
type Kind string

const (
	KindInvalidParams  Kind = "invalidParams"
	KindNotFound       Kind = "notFound"
	KindUpstreamError  Kind = "upstreamError"
	KindTimeout        Kind = "timeout"
	KindInvalidSession Kind = "invalidSession"
)

// Error wraps a Kind with a human-readable message and an optional
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Code maps a Kind to its JSON-RPC error code.
func (k Kind) Code() int {
	switch k {
	case KindInvalidParams:
		return jsonrpc.CodeInvalidParams
	case KindNotFound:
		return jsonrpc.CodeMethodNotFound
	case KindUpstreamError, KindTimeout:
		return jsonrpc.CodeInternalError
	case KindInvalidSession:
		return jsonrpc.CodeInvalidParams
	default:
		return jsonrpc.CodeInternalError
	}
}

// ToResponse converts err into a JSON-RPC error Response. Errors that are
// not an *Error are reported as internalError with their own message.
func ToResponse(id jsonrpc.ID, err error) *jsonrpc.Response {
	if appErr, ok := As(err); ok {
		return jsonrpc.NewErrorResponse(id, appErr.Kind.Code(), appErr.Error())
	}
	return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInternalError, err.Error())
}
