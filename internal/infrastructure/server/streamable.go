package server

import (
	"context"
	"net/http"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

// SessionHeader carries the session id of a streamable connection.
const SessionHeader = "Mcp-Session-Id"

// StreamableServer binds a StreamConn to a single full-duplex HTTP exchange.
// The request body carries inbound frames and the response body carries
// responses; the session lives exactly as long as the exchange.
type StreamableServer struct {
	manager  *session.Manager
	exchange *Exchange
	endpoint string
	maxFrame int
	logger   *logging.Logger
}

// StreamableOption configures a StreamableServer
type StreamableOption func(*StreamableServer)

// WithStreamableEndpoint sets the path, including any base path
func WithStreamableEndpoint(endpoint string) StreamableOption {
	return func(s *StreamableServer) {
		s.endpoint = endpoint
	}
}

// WithStreamableMaxFrame bounds the size of an inbound frame
func WithStreamableMaxFrame(n int) StreamableOption {
	return func(s *StreamableServer) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// WithStreamableLogger sets the logger
func WithStreamableLogger(logger *logging.Logger) StreamableOption {
	return func(s *StreamableServer) {
		s.logger = logger
	}
}

// NewStreamableServer creates the streamable transport.
func NewStreamableServer(manager *session.Manager, exchange *Exchange, opts ...StreamableOption) *StreamableServer {
	s := &StreamableServer{
		manager:  manager,
		exchange: exchange,
		endpoint: "/mcp",
		maxFrame: defaultMaxBodyBytes,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("streamable")
	return s
}

// Endpoint returns the routed path
func (s *StreamableServer) Endpoint() string {
	return s.endpoint
}

// HandleStream runs one streamable connection for the duration of the request.
func (s *StreamableServer) HandleStream(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(SessionHeader); id != "" {
		// sessions are bound to the connection that created them
		if _, err := s.manager.Get(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSONRPCError(w, http.StatusConflict, shared.InvalidRequest, "session is bound to another connection")
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.EnableFullDuplex(); err != nil {
		s.logger.Debug("full duplex not available", logging.Fields{"error": err})
	}

	conn := NewStreamConn(r.Body, w, s.exchange,
		WithFlush(rc.Flush),
		WithMaxFrameBytes(s.maxFrame),
		WithConnLogger(s.logger),
	)
	sess := s.manager.Create(domain.TransportStreamable, conn)
	stop := context.AfterFunc(r.Context(), func() {
		sess.Close(session.ReasonDisconnect)
	})
	defer stop()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(SessionHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		sess.Close(session.ReasonTransportError)
		return
	}

	if err := conn.Serve(sess); err != nil {
		s.logger.Debug("connection ended with error", logging.Fields{"session_id": sess.ID(), "error": err})
	}
}

// HandleClose starts an explicit close of the session named by the header.
func (s *StreamableServer) HandleClose(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeJSONRPCError(w, http.StatusBadRequest, shared.InvalidRequest, "missing "+SessionHeader+" header")
		return
	}
	if err := s.manager.Close(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeHTTP implements the http.Handler interface.
func (s *StreamableServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.endpoint {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.HandleStream(w, r)
	case http.MethodDelete:
		s.HandleClose(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
