package domain

import "context"

// SessionDirectory mirrors live session metadata for operators. It is not
// consulted when routing requests.
type SessionDirectory interface {
	// Put records or refreshes a session.
	Put(ctx context.Context, info SessionInfo) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns all recorded sessions.
	List(ctx context.Context) ([]SessionInfo, error)
}
