package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

// Tool names served by MockExecutor
const (
	ToolEcho = "echo"
	ToolSlow = "slow"
	ToolFail = "fail"
)

// MockExecutor implements domain.ToolExecutor for testing.
//
//   - echo returns {"text": arguments.text}
//   - slow sleeps for arguments.ms milliseconds, or until the context ends
//   - fail always returns an error
type MockExecutor struct {
	mu         sync.Mutex
	listCalls  int
	calls      []string
	Cancelled  chan string
	ListErr    error
	ExtraTools []shared.Tool
}

// NewMockExecutor creates a new mock executor
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{Cancelled: make(chan string, 16)}
}

// ListTools implements ToolExecutor.ListTools
func (m *MockExecutor) ListTools(context.Context) ([]shared.Tool, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	tools := []shared.Tool{
		{
			Name:        ToolEcho,
			Description: "Echo the text argument",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{"type": "string"},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        ToolSlow,
			Description: "Sleep before answering",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"ms": map[string]interface{}{"type": "number"},
				},
			},
		},
		{
			Name:        ToolFail,
			Description: "Always fails",
		},
	}
	return append(tools, m.ExtraTools...), nil
}

// CallTool implements ToolExecutor.CallTool
func (m *MockExecutor) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()

	switch name {
	case ToolEcho:
		return map[string]interface{}{"text": arguments["text"]}, nil
	case ToolSlow:
		ms, _ := arguments["ms"].(float64)
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return map[string]interface{}{"slept": ms}, nil
		case <-ctx.Done():
			select {
			case m.Cancelled <- name:
			default:
			}
			return nil, ctx.Err()
		}
	case ToolFail:
		return nil, errors.New("backend unavailable")
	default:
		return nil, errors.New("no such tool")
	}
}

// ListCalls returns how many times ListTools was called
func (m *MockExecutor) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// Calls returns the names of the tools called so far
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockSession implements handler.Session for testing
type MockSession struct {
	SessionID       string
	Kind            domain.TransportKind
	mu              sync.Mutex
	ProtocolVersion string
	Client          shared.Implementation
	CancelledIDs    []string
}

// NewMockSession creates a new mock session
func NewMockSession(id string) *MockSession {
	return &MockSession{SessionID: id, Kind: domain.TransportStreamable}
}

// ID implements handler.Session
func (s *MockSession) ID() string {
	return s.SessionID
}

// Transport implements handler.Session
func (s *MockSession) Transport() domain.TransportKind {
	return s.Kind
}

// SetClient implements handler.Session
func (s *MockSession) SetClient(protocolVersion string, client shared.Implementation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProtocolVersion = protocolVersion
	s.Client = client
}

// CancelCall implements handler.Session
func (s *MockSession) CancelCall(id shared.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelledIDs = append(s.CancelledIDs, id.Key())
	return true
}

// MockOutbound collects delivered frames
type MockOutbound struct {
	mu     sync.Mutex
	frames [][]byte
	ch     chan []byte
	Err    error
}

// NewMockOutbound creates a new mock outbound
func NewMockOutbound() *MockOutbound {
	return &MockOutbound{ch: make(chan []byte, 100)}
}

// Deliver implements transport.Outbound
func (o *MockOutbound) Deliver(ctx context.Context, frame []byte) error {
	if o.Err != nil {
		return o.Err
	}
	o.mu.Lock()
	o.frames = append(o.frames, frame)
	o.mu.Unlock()

	select {
	case o.ch <- frame:
	default:
	}
	return nil
}

// Frames returns all delivered frames
func (o *MockOutbound) Frames() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.frames...)
}

// WaitForFrame waits for the next delivered frame
func (o *MockOutbound) WaitForFrame(timeout time.Duration) ([]byte, bool) {
	select {
	case f := <-o.ch:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}
