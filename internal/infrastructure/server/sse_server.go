package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

const (
	defaultQueueSize    = 64
	defaultMaxBodyBytes = 4 << 20
)

// SSEServer implements the stream-pair transport: a GET that opens an event
// stream and a POST that submits one message referencing it.
type SSEServer struct {
	manager  *session.Manager
	exchange *Exchange
	clock    clockwork.Clock
	logger   *logging.Logger

	baseURL         string
	basePath        string
	messageEndpoint string
	sseEndpoint     string
	queueSize       int
	keepalive       time.Duration
	maxBodyBytes    int64

	inflight conc.WaitGroup
}

// SSEOption defines a function type for configuring SSEServer
type SSEOption func(*SSEServer)

// WithBaseURL sets the base URL advertised in the endpoint event
func WithBaseURL(baseURL string) SSEOption {
	return func(s *SSEServer) {
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil {
				return
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return
			}
			// Check if the host is empty or only contains a port
			if u.Host == "" || strings.HasPrefix(u.Host, ":") {
				return
			}
			if len(u.Query()) > 0 {
				return
			}
		}
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithBasePath sets the base path for the SSE server
func WithBasePath(basePath string) SSEOption {
	return func(s *SSEServer) {
		s.basePath = normalizeBasePath(basePath)
	}
}

// WithMessageEndpoint sets the message endpoint path
func WithMessageEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		s.messageEndpoint = endpoint
	}
}

// WithSSEEndpoint sets the SSE endpoint path
func WithSSEEndpoint(endpoint string) SSEOption {
	return func(s *SSEServer) {
		s.sseEndpoint = endpoint
	}
}

// WithQueueSize bounds the number of frames buffered per stream
func WithQueueSize(size int) SSEOption {
	return func(s *SSEServer) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithKeepAlive sets the interval between keep-alive comments. Zero disables them.
func WithKeepAlive(interval time.Duration) SSEOption {
	return func(s *SSEServer) {
		s.keepalive = interval
	}
}

// WithMaxBodyBytes bounds the size of a posted message
func WithMaxBodyBytes(n int64) SSEOption {
	return func(s *SSEServer) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithSSEClock sets the clock driving keep-alives
func WithSSEClock(clock clockwork.Clock) SSEOption {
	return func(s *SSEServer) {
		s.clock = clock
	}
}

// WithSSELogger sets the logger
func WithSSELogger(logger *logging.Logger) SSEOption {
	return func(s *SSEServer) {
		s.logger = logger
	}
}

// NewSSEServer creates a new SSE server instance.
func NewSSEServer(manager *session.Manager, exchange *Exchange, opts ...SSEOption) *SSEServer {
	s := &SSEServer{
		manager:         manager,
		exchange:        exchange,
		clock:           clockwork.NewRealClock(),
		logger:          logging.Default(),
		sseEndpoint:     "/sse",
		messageEndpoint: "/message",
		queueSize:       defaultQueueSize,
		keepalive:       15 * time.Second,
		maxBodyBytes:    defaultMaxBodyBytes,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("sse")

	return s
}

// HandleSSE opens a stream-pair session and streams its responses until the
// session closes or the client disconnects.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, ErrResponseWriterNotFlusher.Error(), http.StatusInternalServerError)
		return
	}

	stream := newSSEStream(w, s.queueSize)
	defer stream.close()
	sess := s.manager.Create(domain.TransportStreamPair, stream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s?sessionId=%s", s.CompleteMessageEndpoint(), sess.ID())
	if err := stream.writeEvent("endpoint", []byte(endpoint)); err != nil {
		sess.Close(session.ReasonTransportError)
		return
	}

	var keepalive <-chan time.Time
	if s.keepalive > 0 {
		ticker := s.clock.NewTicker(s.keepalive)
		defer ticker.Stop()
		keepalive = ticker.Chan()
	}

	if reason := stream.run(sess, keepalive, r.Context().Done()); reason != "" {
		sess.Close(reason)
	}
}

// HandleMessage accepts one request for an open session. The response is
// pushed to the session's event stream; the POST itself only acknowledges.
func (s *SSEServer) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONRPCError(w, http.StatusMethodNotAllowed, shared.InvalidRequest, "method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSONRPCError(w, http.StatusBadRequest, shared.InvalidRequest, "missing sessionId")
		return
	}

	sess, err := s.manager.Open(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONRPCError(w, http.StatusRequestEntityTooLarge, shared.InvalidRequest,
				fmt.Sprintf("message exceeds %d bytes", s.maxBodyBytes))
			return
		}
		writeJSONRPCError(w, http.StatusBadRequest, shared.ParseError, "failed to read message")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	s.inflight.Go(func() {
		s.exchange.Handle(sess, body)
	})
}

// HandleClose starts an explicit close of a stream-pair session.
func (s *SSEServer) HandleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSONRPCError(w, http.StatusBadRequest, shared.InvalidRequest, "missing sessionId")
		return
	}
	if err := s.manager.Close(sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wait blocks until every accepted message has been handled.
func (s *SSEServer) Wait() {
	s.inflight.Wait()
}

// writeJSONRPCError writes a JSON-RPC error response with a null id.
func writeJSONRPCError(w http.ResponseWriter, status int, code shared.ErrorCode, message string) {
	writeRPCError(w, status, shared.NewError(code, message, nil))
}

// writeError answers a control request with the status and error body
// derived from the kind of err.
func writeError(w http.ResponseWriter, err error) {
	writeRPCError(w, sherrors.HTTPStatus(err), sherrors.ToJSONRPC(err))
}

func writeRPCError(w http.ResponseWriter, status int, rpcErr *shared.JSONRPCError) {
	body, _ := shared.EncodeResponse(shared.NewErrorResponse(nil, rpcErr))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func getURLPath(input string) (string, error) {
	parse, err := url.Parse(input)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse URL %s", input)
	}
	return parse.Path, nil
}

func normalizeBasePath(basePath string) string {
	if basePath == "" || basePath == "/" {
		return ""
	}
	// Ensure the path starts with / and doesn't end with /
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return strings.TrimSuffix(basePath, "/")
}

// CompleteSseEndpoint returns the advertised URL of the event stream
func (s *SSEServer) CompleteSseEndpoint() string {
	return s.baseURL + s.basePath + s.sseEndpoint
}

// CompleteSsePath returns the routed path of the event stream
func (s *SSEServer) CompleteSsePath() string {
	path, err := getURLPath(s.CompleteSseEndpoint())
	if err != nil {
		return s.basePath + s.sseEndpoint
	}
	return path
}

// CompleteMessageEndpoint returns the advertised URL messages are posted to
func (s *SSEServer) CompleteMessageEndpoint() string {
	return s.baseURL + s.basePath + s.messageEndpoint
}

// CompleteMessagePath returns the routed path messages are posted to
func (s *SSEServer) CompleteMessagePath() string {
	path, err := getURLPath(s.CompleteMessageEndpoint())
	if err != nil {
		return s.basePath + s.messageEndpoint
	}
	return path
}

// ServeHTTP implements the http.Handler interface.
func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	// Use exact path matching rather than Contains
	if path == s.CompleteSsePath() {
		s.HandleSSE(w, r)
		return
	}
	if path == s.CompleteMessagePath() {
		if r.Method == http.MethodDelete {
			s.HandleClose(w, r)
			return
		}
		s.HandleMessage(w, r)
		return
	}

	http.NotFound(w, r)
}
