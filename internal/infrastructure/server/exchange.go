// Package server implements the stream-pair and streamable transports on top
// of a shared request exchange.
package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/handler"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

// Dispatcher turns one decoded request into at most one response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *handler.Request) *shared.JSONRPCResponse
}

// FrameObserver is told about frames that never reached the dispatcher.
type FrameObserver interface {
	FrameRejected(kind domain.TransportKind, code int)
}

// Exchange runs inbound frames for a session and delivers the responses.
// Both transports share it, so RPC behavior does not depend on the wire.
type Exchange struct {
	dispatcher Dispatcher
	logger     *logging.Logger
	observer   FrameObserver
}

// NewExchange creates an exchange around dispatcher.
func NewExchange(dispatcher Dispatcher, logger *logging.Logger, observer FrameObserver) *Exchange {
	if logger == nil {
		logger = logging.Default()
	}
	return &Exchange{dispatcher: dispatcher, logger: logger, observer: observer}
}

// Handle decodes frame, dispatches it on the session and delivers the
// response, if any. It blocks until the response has been handed to the
// transport.
func (e *Exchange) Handle(sess *session.Session, frame []byte) {
	req, decodeErr := e.Decode(sess, frame)
	if decodeErr != nil {
		e.Reject(sess, decodeErr.ID, decodeErr.Err)
		return
	}
	if run := e.Accept(sess, req); run != nil {
		run()
	}
}

// Decode parses one inbound frame and records activity on the session.
func (e *Exchange) Decode(sess *session.Session, frame []byte) (*shared.JSONRPCRequest, *shared.DecodeError) {
	sess.Touch()

	req, err := shared.DecodeRequest(frame)
	if err != nil {
		var decodeErr *shared.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &shared.DecodeError{Err: shared.NewError(shared.ParseError, "", nil)}
		}
		return nil, decodeErr
	}
	return req, nil
}

// Accept answers req before returning, except for tool calls. A tool call is
// registered as pending and Accept returns the function that executes it and
// delivers its response; the caller chooses where that runs.
func (e *Exchange) Accept(sess *session.Session, req *shared.JSONRPCRequest) func() {
	hreq := &handler.Request{JSONRPCRequest: req, Session: sess}

	if req.IsNotification() {
		if resp := e.dispatcher.Dispatch(sess.Context(), hreq); resp != nil {
			e.deliver(sess, resp)
		}
		return nil
	}

	pc, err := sess.BeginCall(req.ID, req.Method)
	if err != nil {
		e.deliver(sess, shared.NewErrorResponse(req.ID, sherrors.ToJSONRPC(err)))
		return nil
	}

	run := func() {
		defer sess.EndCall(pc)
		e.complete(sess, pc, hreq)
	}
	if req.Method != shared.MethodCallTool {
		run()
		return nil
	}
	return run
}

func (e *Exchange) complete(sess *session.Session, pc *session.PendingCall, req *handler.Request) {
	resp := e.dispatcher.Dispatch(pc.Context(), req)
	if !pc.Resolve() {
		e.logger.Debug("dropping response for cancelled call", logging.Fields{
			"session_id": sess.ID(),
			"request_id": req.ID.String(),
			"method":     req.Method,
		})
		return
	}
	if resp != nil {
		e.deliver(sess, resp)
	}
}

// Reject answers a frame that could not be decoded.
func (e *Exchange) Reject(sess *session.Session, id shared.ID, rpcErr *shared.JSONRPCError) {
	e.logger.Debug("rejecting frame", logging.Fields{
		"session_id": sess.ID(),
		"code":       rpcErr.Code,
		"reason":     rpcErr.Message,
	})
	if e.observer != nil {
		e.observer.FrameRejected(sess.Transport(), rpcErr.Code)
	}
	e.deliver(sess, shared.NewErrorResponse(id, rpcErr))
}

func (e *Exchange) deliver(sess *session.Session, resp *shared.JSONRPCResponse) {
	frame, err := shared.EncodeResponse(resp)
	if err != nil {
		e.logger.Error("failed to encode response", logging.Fields{"session_id": sess.ID(), "error": err})
		frame, err = shared.EncodeResponse(shared.NewErrorResponse(resp.ID, shared.NewError(shared.InternalError, "", nil)))
		if err != nil {
			return
		}
	}
	if err := sess.Deliver(sess.Context(), frame); err != nil {
		e.logger.Warn("failed to deliver response", logging.Fields{"session_id": sess.ID(), "error": err})
	}
}
