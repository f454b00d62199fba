// Package stdio serves a single streamable session over standard input and
// output, for clients that launch the gateway as a subprocess.
package stdio

import (
	"context"
	"io"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/server"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

// StdioServer runs the newline-delimited framing over a reader/writer pair.
type StdioServer struct {
	manager  *session.Manager
	exchange *server.Exchange
	maxFrame int
	logger   *logging.Logger
}

// StdioOption defines a function type for configuring StdioServer
type StdioOption func(*StdioServer)

// WithLogger sets the logger. It must not write to stdout.
func WithLogger(logger *logging.Logger) StdioOption {
	return func(s *StdioServer) {
		s.logger = logger
	}
}

// WithMaxFrameBytes bounds the size of an inbound line
func WithMaxFrameBytes(n int) StdioOption {
	return func(s *StdioServer) {
		s.maxFrame = n
	}
}

// NewStdioServer creates a stdio server sharing the gateway's sessions and
// dispatcher.
func NewStdioServer(manager *session.Manager, exchange *server.Exchange, opts ...StdioOption) *StdioServer {
	s := &StdioServer{
		manager:  manager,
		exchange: exchange,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("stdio")
	return s
}

// Listen serves one session until stdin ends, the session is closed or ctx
// is cancelled.
func (s *StdioServer) Listen(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	connOpts := []server.StreamConnOption{server.WithConnLogger(s.logger)}
	if s.maxFrame > 0 {
		connOpts = append(connOpts, server.WithMaxFrameBytes(s.maxFrame))
	}

	conn := server.NewStreamConn(stdin, stdout, s.exchange, connOpts...)
	sess := s.manager.Create(domain.TransportStreamable, conn)
	s.logger.Info("stdio session started", logging.Fields{"session_id": sess.ID()})

	stop := context.AfterFunc(ctx, func() {
		sess.Close(session.ReasonShutdown)
	})
	defer stop()

	err := conn.Serve(sess)
	s.logger.Info("stdio session ended", logging.Fields{"session_id": sess.ID(), "reason": sess.CloseReason()})
	return err
}
