package handler

import (
	"context"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

// Session is the part of the calling session a method handler may touch
type Session interface {
	ID() string
	Transport() domain.TransportKind

	// SetClient records the result of protocol negotiation
	SetClient(protocolVersion string, client shared.Implementation)

	// CancelCall cancels an in-flight call by request id
	CancelCall(id shared.ID) bool
}

// Request is a decoded request bound to the session it arrived on
type Request struct {
	*shared.JSONRPCRequest
	Session Session
}

// RequestHandler handles a specific request method. A non-nil error is
// converted into an error response.
type RequestHandler func(ctx context.Context, req *Request) (interface{}, error)
