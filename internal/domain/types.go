// Package domain defines the core entities of the gateway.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

// ToolExecutor is the backend that owns the actual tool implementations.
type ToolExecutor interface {
	// ListTools returns the descriptors of every tool the backend serves.
	ListTools(ctx context.Context) ([]shared.Tool, error)

	// CallTool runs a tool. The result is returned to the caller unchanged.
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
}

// TransportKind names the wire encoding a session was opened with.
type TransportKind string

const (
	// TransportStreamPair is the legacy event stream plus message POST pair.
	TransportStreamPair TransportKind = "stream-pair"
	// TransportStreamable is a single bidirectional framed connection.
	TransportStreamable TransportKind = "streamable"
)

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionActive
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is allowed.
// Any live state may jump straight to Closed.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case SessionCreated:
		return next == SessionActive || next == SessionClosing || next == SessionClosed
	case SessionActive:
		return next == SessionClosing || next == SessionClosed
	case SessionClosing:
		return next == SessionClosed
	default:
		return false
	}
}

// Open reports whether the session still accepts new requests.
func (s SessionState) Open() bool {
	return s == SessionCreated || s == SessionActive
}

// NewSessionID returns a fresh session identifier. Identifiers are random
// and never reused, so a stale id can never address a newer session.
func NewSessionID() string {
	return uuid.New().String()
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID              string                `json:"id"`
	Transport       TransportKind         `json:"transport"`
	State           string                `json:"state"`
	CreatedAt       time.Time             `json:"createdAt"`
	LastActivity    time.Time             `json:"lastActivity"`
	InFlight        int                   `json:"inFlight"`
	ProtocolVersion string                `json:"protocolVersion,omitempty"`
	Client          shared.Implementation `json:"client,omitempty"`
}
