package shared

import (
	"bytes"
	"fmt"
)

// JSONRPCVersion is the version of JSON-RPC to use
const JSONRPCVersion = "2.0"

// ErrorCode represents a JSON-RPC error code
type ErrorCode int

// Standard JSON-RPC error codes
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
	ServerError    ErrorCode = -32000
	// Gateway-specific error codes
	SessionNotFound ErrorCode = -32001
)

// ID is a request identifier kept exactly as it appeared on the wire so that
// it can be echoed back byte for byte. A nil ID means the member was absent.
type ID []byte

// NewID returns an ID from a raw JSON literal such as `7` or `"abc"`.
func NewID(raw string) ID {
	return ID(raw)
}

// IsAbsent reports whether the request carried no id member.
func (id ID) IsAbsent() bool {
	return len(id) == 0
}

// Key returns a comparable form of the id for use in maps.
func (id ID) Key() string {
	return string(id)
}

// String returns the raw literal, or "null" when absent.
func (id ID) String() string {
	if id.IsAbsent() {
		return "null"
	}
	return string(id)
}

// MarshalJSON emits the id literal unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsAbsent() {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON stores a copy of the literal.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[0:0], data...)
	return nil
}

func (id ID) valid() bool {
	if id.IsAbsent() {
		return true
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return bytes.Equal(id, []byte("null"))
	}
}

// JSONRPCRequest represents a JSON-RPC request or notification
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  []byte `json:"-"`
}

// IsNotification reports whether the request expects no response
func (r *JSONRPCRequest) IsNotification() bool {
	return r.ID.IsAbsent()
}

// JSONRPCResponse represents a JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string
	ID      ID
	Result  interface{}
	Error   *JSONRPCError
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates a JSON-RPC error. An empty message is replaced by the
// standard text for the code.
func NewError(code ErrorCode, message string, data interface{}) *JSONRPCError {
	if message == "" {
		message = ErrorMessage(code)
	}
	return &JSONRPCError{Code: int(code), Message: message, Data: data}
}

// NewResultResponse creates a success response for id
func NewResultResponse(id ID, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse creates an error response for id
func NewErrorResponse(id ID, err *JSONRPCError) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

// ErrorMessage returns a standard error message for a given error code
func ErrorMessage(code ErrorCode) string {
	switch code {
	case ParseError:
		return "Parse error"
	case InvalidRequest:
		return "Invalid request"
	case MethodNotFound:
		return "Method not found"
	case InvalidParams:
		return "Invalid params"
	case InternalError:
		return "Internal error"
	case ServerError:
		return "Server error"
	case SessionNotFound:
		return "Session not found"
	default:
		return "Unknown error"
	}
}
