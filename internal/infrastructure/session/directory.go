package session

import (
	"context"
	"sort"
	"sync"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
)

// MemoryDirectory implements domain.SessionDirectory using in-memory storage.
type MemoryDirectory struct {
	sessions sync.Map
}

// NewMemoryDirectory creates a new MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{}
}

// Put records or refreshes a session.
func (d *MemoryDirectory) Put(_ context.Context, info domain.SessionInfo) error {
	d.sessions.Store(info.ID, info)
	return nil
}

// Delete removes a session.
func (d *MemoryDirectory) Delete(_ context.Context, id string) error {
	d.sessions.Delete(id)
	return nil
}

// List returns all recorded sessions ordered by id.
func (d *MemoryDirectory) List(context.Context) ([]domain.SessionInfo, error) {
	var sessions []domain.SessionInfo
	d.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(domain.SessionInfo))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}
