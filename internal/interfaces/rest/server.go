// Package rest provides the HTTP interface of the gateway.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/server"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

// ToolCounter reports how many tools the gateway serves
type ToolCounter interface {
	Len() int
}

// Config contains everything the HTTP interface mounts.
type Config struct {
	Addr       string
	BaseURL    string
	BasePath   string
	ServerInfo shared.Implementation
	SSE        *server.SSEServer
	Streamable *server.StreamableServer
	Manager    *session.Manager
	Tools      ToolCounter
	// Metrics is optional; nil disables the /metrics route.
	Metrics *server.Metrics
	Logger  *logging.Logger
}

// Info is returned by the root endpoint.
type Info struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	ProtocolVersions []string          `json:"protocolVersions"`
	Endpoints        map[string]string `json:"endpoints"`
	Tools            int               `json:"tools"`
	Sessions         int               `json:"sessions"`
}

// Server serves both transports and the operational endpoints.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer creates the HTTP interface.
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	s := &Server{
		config: config,
		logger: config.Logger.Named("http"),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	base := s.config.BasePath
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s.logger))

	r.Get(base+"/", s.handleInfo)
	r.Get(base+"/sessions", s.handleSessions)

	if s.config.SSE != nil {
		r.Get(s.config.SSE.CompleteSsePath(), s.config.SSE.HandleSSE)
		r.Post(s.config.SSE.CompleteMessagePath(), s.config.SSE.HandleMessage)
		r.Delete(s.config.SSE.CompleteMessagePath(), s.config.SSE.HandleClose)
	}
	if s.config.Streamable != nil {
		r.Post(s.config.Streamable.Endpoint(), s.config.Streamable.HandleStream)
		r.Delete(s.config.Streamable.Endpoint(), s.config.Streamable.HandleClose)
	}
	if s.config.Metrics != nil {
		r.Method(http.MethodGet, base+"/metrics", s.config.Metrics.Handler())
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting gateway", logging.Fields{"addr": s.httpServer.Addr, "endpoints": s.endpoints()})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Stop closes every session so long-lived streams end, then shuts the
// listener down and waits for accepted messages to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.config.Manager != nil {
		s.config.Manager.CloseAll(session.ReasonShutdown)
	}
	err := s.httpServer.Shutdown(ctx)
	if s.config.SSE != nil {
		s.config.SSE.Wait()
	}
	return errors.Wrap(err, "shutdown http server")
}

func (s *Server) endpoints() map[string]string {
	endpoints := map[string]string{}
	if s.config.SSE != nil {
		endpoints["sse"] = s.config.SSE.CompleteSseEndpoint()
		endpoints["message"] = s.config.SSE.CompleteMessageEndpoint()
	}
	if s.config.Streamable != nil {
		endpoints["streamable"] = s.config.BaseURL + s.config.Streamable.Endpoint()
	}
	if s.config.Metrics != nil {
		endpoints["metrics"] = s.config.BaseURL + s.config.BasePath + "/metrics"
	}
	return endpoints
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := Info{
		Name:             s.config.ServerInfo.Name,
		Version:          s.config.ServerInfo.Version,
		ProtocolVersions: shared.SupportedProtocolVersions,
		Endpoints:        s.endpoints(),
	}
	if s.config.Tools != nil {
		info.Tools = s.config.Tools.Len()
	}
	if s.config.Manager != nil {
		info.Sessions = s.config.Manager.Count()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.config.Manager == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": []domain.SessionInfo{}})
		return
	}
	sessions, err := s.config.Manager.Directory().List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to list sessions", logging.Fields{"error": err})
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session directory unavailable"})
		return
	}
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
