// Package server lets a program embed the gateway with its own tools.
package server

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/builder"
	"github.com/FreePeak/golang-mcp-gateway/internal/config"
	"github.com/FreePeak/golang-mcp-gateway/pkg/tools"
	"github.com/FreePeak/golang-mcp-gateway/pkg/types"
)

// ToolHandler is a function that handles tool calls.
type ToolHandler = tools.Handler

// MCPServer collects tools and serves them over the gateway transports.
type MCPServer struct {
	name       string
	version    string
	configPath string
	address    string
	tools      *tools.Set
}

// NewMCPServer creates a new server with the specified name and version.
func NewMCPServer(name, version string) *MCPServer {
	return &MCPServer{
		name:    name,
		version: version,
		tools:   tools.NewSet(),
	}
}

// AddTool adds a tool to the server.
func (s *MCPServer) AddTool(tool *types.Tool, handler ToolHandler) error {
	return s.tools.Add(tool, handler)
}

// SetAddress sets the HTTP address for the server.
func (s *MCPServer) SetAddress(addr string) {
	s.address = addr
}

// SetConfigFile loads settings from a YAML or JSON file before serving.
func (s *MCPServer) SetConfigFile(path string) {
	s.configPath = path
}

func (s *MCPServer) build(ctx context.Context) (*builder.Gateway, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	b := builder.NewServerBuilder(*cfg).
		WithName(s.name).
		WithVersion(s.version).
		WithExecutor(s.tools)
	if s.address != "" {
		b = b.WithAddress(s.address)
	}
	gw, err := b.Build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build gateway")
	}
	return gw, nil
}

// ServeHTTP serves the event-stream and streamable transports until ctx is
// cancelled.
func (s *MCPServer) ServeHTTP(ctx context.Context) error {
	gw, err := s.build(ctx)
	if err != nil {
		return err
	}
	defer gw.Close()
	return gw.Serve(ctx)
}

// ServeStdio serves one session over standard I/O until stdin closes or ctx
// is cancelled.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	gw, err := s.build(ctx)
	if err != nil {
		return err
	}
	defer gw.Close()
	return gw.ServeStdio(ctx, os.Stdin, os.Stdout)
}
