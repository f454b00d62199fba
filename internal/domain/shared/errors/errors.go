package errors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

// Kind classifies where an error originated
type Kind string

const (
	// KindFrame is a malformed or oversized frame
	KindFrame Kind = "frame"
	// KindProtocol is a well-formed frame that violates the RPC dialect
	KindProtocol Kind = "protocol"
	// KindSession is a reference to a session that does not exist or is closing
	KindSession Kind = "session"
	// KindExecutor is a failure reported by the tool backend
	KindExecutor Kind = "executor"
	// KindTransport is a write failure or connection loss
	KindTransport Kind = "transport"
)

// GatewayError carries a kind, a JSON-RPC code and an optional cause
type GatewayError struct {
	Kind    Kind
	Code    shared.ErrorCode
	Message string
	Data    interface{}
	Cause   error
}

// Error returns the error message
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewFrameError creates a frame error answered with a parse error
func NewFrameError(message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindFrame, Code: shared.ParseError, Message: message, Cause: cause}
}

// NewProtocolError creates a protocol error with the given code
func NewProtocolError(code shared.ErrorCode, message string, data interface{}) *GatewayError {
	return &GatewayError{Kind: KindProtocol, Code: code, Message: message, Data: data}
}

// NewSessionError creates a session lookup error
func NewSessionError(message string) *GatewayError {
	return &GatewayError{Kind: KindSession, Code: shared.SessionNotFound, Message: message}
}

// NewExecutorError creates an executor failure
func NewExecutorError(message string, data interface{}, cause error) *GatewayError {
	return &GatewayError{Kind: KindExecutor, Code: shared.InternalError, Message: message, Data: data, Cause: cause}
}

// NewTransportError creates a transport failure
func NewTransportError(message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindTransport, Code: shared.InternalError, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" when it is not a gateway error
func KindOf(err error) Kind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// ToJSONRPC converts any error into the error member of a response.
// An executor failure is always reported as such, whatever it wraps.
// Errors that carry no classification become internal errors.
func ToJSONRPC(err error) *shared.JSONRPCError {
	var execErr *ToolExecutionError
	if errors.As(err, &execErr) {
		return shared.NewError(shared.InternalError, execErr.Error(), map[string]interface{}{"tool": execErr.Name})
	}

	var rpcErr *shared.JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var notFound *ToolNotFoundError
	if errors.As(err, &notFound) {
		return shared.NewError(shared.InvalidParams, notFound.Error(), nil)
	}

	var badArgs *InvalidArgumentsError
	if errors.As(err, &badArgs) {
		return shared.NewError(shared.InvalidParams, badArgs.Error(), nil)
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return shared.NewError(gwErr.Code, gwErr.Error(), gwErr.Data)
	}

	return shared.NewError(shared.InternalError, err.Error(), nil)
}

// HTTPStatus maps an error to the status used on control endpoints
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindSession:
		return http.StatusNotFound
	case KindFrame, KindProtocol:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
