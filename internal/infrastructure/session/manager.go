// Package session owns the table of live client sessions and their
// lifecycle.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/transport"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
)

const directoryTimeout = 2 * time.Second

// Observer is notified when sessions open and close.
type Observer interface {
	SessionOpened(kind domain.TransportKind)
	SessionClosed(kind domain.TransportKind, reason string, lifetime time.Duration)
}

// Config contains configuration for the Manager.
type Config struct {
	IdleTimeout      time.Duration
	ReapInterval     time.Duration
	DrainTimeout     time.Duration
	MaxInFlightCalls int
	Clock            clockwork.Clock
	Directory        domain.SessionDirectory
	Logger           *logging.Logger
	Observer         Observer
}

// Manager is the single table of live sessions. The lock only guards the map
// and is never held while talking to a session's transport or the directory.
type Manager struct {
	config Config
	clock  clockwork.Clock
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(config Config) *Manager {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	if config.Directory == nil {
		config.Directory = NewMemoryDirectory()
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = time.Minute
	}
	return &Manager{
		config:   config,
		clock:    config.Clock,
		logger:   config.Logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session whose responses go to outbound.
func (m *Manager) Create(kind domain.TransportKind, outbound transport.Outbound) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := m.clock.Now()

	s := &Session{
		id:           domain.NewSessionID(),
		kind:         kind,
		createdAt:    now,
		clock:        m.clock,
		outbound:     outbound,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		state:        domain.SessionCreated,
		lastActivity: now,
		pending:      make(map[string]*PendingCall),
		drainTimeout: m.config.DrainTimeout,
		onChange:     m.publish,
		onClose:      m.remove,
	}
	if m.config.MaxInFlightCalls > 0 {
		s.calls = semaphore.NewWeighted(int64(m.config.MaxInFlightCalls))
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session opened", logging.Fields{"session_id": s.id, "transport": string(kind)})
	if m.config.Observer != nil {
		m.config.Observer.SessionOpened(kind)
	}
	m.publish(s)
	return s
}

// Directory returns the directory sessions are mirrored into.
func (m *Manager) Directory() domain.SessionDirectory {
	return m.config.Directory
}

// Get returns a live session regardless of its state.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, sherrors.NewSessionError(fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}

// Open returns a session that still accepts requests.
func (m *Manager) Open(id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.State().Open() {
		return nil, sherrors.NewSessionError(fmt.Sprintf("session %s is closing", id))
	}
	return s, nil
}

// Close starts an explicit close of the session.
func (m *Manager) Close(id string) error {
	s, err := m.Open(id)
	if err != nil {
		return err
	}
	s.BeginClose()
	return nil
}

// CloseAll forces every session closed.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.Close(reason)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot returns info for every live session ordered by creation time.
func (m *Manager) Snapshot() []domain.SessionInfo {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	infos := make([]domain.SessionInfo, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Reap closes every session that has been idle for longer than the idle
// timeout and returns how many were closed.
func (m *Manager) Reap() int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}
	now := m.clock.Now()

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.idleSince(now, m.config.IdleTimeout) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		s.Close(ReasonIdleTimeout)
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is done, then closes everything.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll(ReasonShutdown)
			return nil
		case <-ticker.Chan():
			if n := m.Reap(); n > 0 {
				m.logger.Debug("reaped idle sessions", logging.Fields{"count": n})
			}
		}
	}
}

func (m *Manager) remove(s *Session, reason string) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	lifetime := m.clock.Since(s.createdAt)
	m.logger.Info("session closed", logging.Fields{
		"session_id": s.id,
		"transport":  string(s.kind),
		"reason":     reason,
		"lifetime":   lifetime,
	})
	if m.config.Observer != nil {
		m.config.Observer.SessionClosed(s.kind, reason, lifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()
	if err := m.config.Directory.Delete(ctx, s.id); err != nil {
		m.logger.Warn("session directory delete failed", logging.Fields{"session_id": s.id, "error": err})
	}
}

// publish mirrors s into the directory. A close that lands while the entry
// is being written deletes it again, so a closed session never stays listed.
func (m *Manager) publish(s *Session) {
	if s.State() == domain.SessionClosed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()
	if err := m.config.Directory.Put(ctx, s.Info()); err != nil {
		m.logger.Warn("session directory update failed", logging.Fields{"session_id": s.id, "error": err})
		return
	}
	if s.State() == domain.SessionClosed {
		if err := m.config.Directory.Delete(ctx, s.id); err != nil {
			m.logger.Warn("session directory delete failed", logging.Fields{"session_id": s.id, "error": err})
		}
	}
}
