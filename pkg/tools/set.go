package tools

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/pkg/types"
)

// Handler runs one tool call. The returned value becomes the call's result.
type Handler func(ctx context.Context, call types.ToolCall) (interface{}, error)

type registered struct {
	tool    *types.Tool
	handler Handler
}

// Set is an in-process tool backend. Tools are listed in the order they
// were added.
type Set struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registered
}

// NewSet creates an empty tool set
func NewSet() *Set {
	return &Set{tools: make(map[string]registered)}
}

// Add registers a tool and its handler.
func (s *Set) Add(tool *types.Tool, handler Handler) error {
	if tool == nil || tool.Name == "" {
		return errors.New("tool must have a name")
	}
	if handler == nil {
		return errors.Errorf("tool %s has no handler", tool.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		return errors.Errorf("tool %s already registered", tool.Name)
	}
	s.order = append(s.order, tool.Name)
	s.tools[tool.Name] = registered{tool: tool, handler: handler}
	return nil
}

// MustAdd is like Add but panics on error
func (s *Set) MustAdd(tool *types.Tool, handler Handler) {
	if err := s.Add(tool, handler); err != nil {
		panic(err)
	}
}

// ListTools implements domain.ToolExecutor
func (s *Set) ListTools(context.Context) ([]shared.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]shared.Tool, 0, len(s.order))
	for _, name := range s.order {
		t := s.tools[name].tool
		out = append(out, shared.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		})
	}
	return out, nil
}

// CallTool implements domain.ToolExecutor
func (s *Set) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	s.mu.RLock()
	entry, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &sherrors.ToolNotFoundError{Name: name}
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	return entry.handler(ctx, types.ToolCall{Name: name, Arguments: arguments})
}

// Text wraps a string as a conventional tool result.
func Text(text string) shared.CallToolResult {
	return shared.CallToolResult{Content: []shared.TextContent{shared.NewTextContent(text)}}
}
