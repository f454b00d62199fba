package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/transport"
)

// Close reasons
const (
	ReasonClientClose    = "client_close"
	ReasonIdleTimeout    = "idle_timeout"
	ReasonDisconnect     = "disconnect"
	ReasonTransportError = "transport_error"
	ReasonShutdown       = "shutdown"
)

// Session is one logical client conversation. All mutable fields are guarded
// by mu, which is never held across I/O.
type Session struct {
	id        string
	kind      domain.TransportKind
	createdAt time.Time
	clock     clockwork.Clock
	outbound  transport.Outbound
	calls     *semaphore.Weighted
	onChange  func(*Session)
	onClose   func(*Session, string)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	state           domain.SessionState
	lastActivity    time.Time
	pending         map[string]*PendingCall
	protocolVersion string
	client          shared.Implementation
	closeReason     string
	drainTimeout    time.Duration
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Transport returns the transport kind the session was opened with.
func (s *Session) Transport() domain.TransportKind {
	return s.kind
}

// Context is cancelled when the session reaches Closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CloseReason returns why the session closed, or "" while it is live.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Info returns a snapshot of the session.
func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionInfo{
		ID:              s.id,
		Transport:       s.kind,
		State:           s.state.String(),
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		InFlight:        len(s.pending),
		ProtocolVersion: s.protocolVersion,
		Client:          s.client,
	}
}

// SetClient records the negotiated protocol version and client identity.
func (s *Session) SetClient(protocolVersion string, client shared.Implementation) {
	s.mu.Lock()
	s.protocolVersion = protocolVersion
	s.client = client
	s.mu.Unlock()
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// BeginCall registers an in-flight request. It fails if the session no
// longer accepts requests or id is already in flight.
func (s *Session) BeginCall(id shared.ID, method string) (*PendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Open() {
		return nil, sherrors.NewProtocolError(shared.InvalidRequest, "session is closing", nil)
	}
	key := id.Key()
	if _, dup := s.pending[key]; dup {
		return nil, sherrors.NewProtocolError(shared.InvalidRequest, "duplicate request id", nil)
	}

	now := s.clock.Now()
	pc := newPendingCall(s.ctx, s.id, id, method, now)
	s.pending[key] = pc
	s.lastActivity = now
	return pc, nil
}

// EndCall removes a finished call. A closing session that has drained all of
// its calls moves to Closed.
func (s *Session) EndCall(pc *PendingCall) {
	pc.cancel()

	s.mu.Lock()
	if cur, ok := s.pending[pc.ID.Key()]; ok && cur == pc {
		delete(s.pending, pc.ID.Key())
	}
	s.lastActivity = s.clock.Now()
	drained := s.state == domain.SessionClosing && len(s.pending) == 0
	s.mu.Unlock()

	if drained {
		s.Close(ReasonClientClose)
	}
}

// CancelCall cancels the in-flight call with the given id.
func (s *Session) CancelCall(id shared.ID) bool {
	s.mu.Lock()
	pc, ok := s.pending[id.Key()]
	s.mu.Unlock()

	if !ok {
		return false
	}
	return pc.Cancel()
}

// InFlight returns the number of pending calls.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// AcquireCall takes one of the session's tool execution slots.
func (s *Session) AcquireCall(ctx context.Context) (func(), error) {
	if s.calls == nil {
		return func() {}, nil
	}
	if err := s.calls.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.calls.Release(1) }, nil
}

// Deliver hands an encoded frame to the transport. A delivery failure is a
// transport error and closes the session.
func (s *Session) Deliver(ctx context.Context, frame []byte) error {
	if err := s.outbound.Deliver(ctx, frame); err != nil {
		s.Close(ReasonTransportError)
		return sherrors.NewTransportError("deliver response", err)
	}
	s.markActive()
	return nil
}

func (s *Session) markActive() {
	s.mu.Lock()
	changed := s.state == domain.SessionCreated
	if changed {
		s.state = domain.SessionActive
	}
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(s)
	}
}

// BeginClose moves the session to Closing. Calls already in flight get up to
// the drain timeout to finish before the session is forced Closed.
func (s *Session) BeginClose() {
	s.mu.Lock()
	if !s.state.CanTransition(domain.SessionClosing) {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionClosing
	idle := len(s.pending) == 0
	drain := s.drainTimeout
	s.mu.Unlock()

	if idle {
		s.Close(ReasonClientClose)
		return
	}
	if s.onChange != nil {
		s.onChange(s)
	}

	timer := s.clock.NewTimer(drain)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			s.Close(ReasonClientClose)
		case <-s.done:
		}
	}()
}

// Close forces the session to Closed and cancels every pending call. It is
// safe to call more than once.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if !s.state.CanTransition(domain.SessionClosed) {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionClosed
	s.closeReason = reason
	pending := make([]*PendingCall, 0, len(s.pending))
	for _, pc := range s.pending {
		pending = append(pending, pc)
	}
	s.pending = make(map[string]*PendingCall)
	s.mu.Unlock()

	for _, pc := range pending {
		pc.Cancel()
	}
	s.cancel()
	close(s.done)

	if s.onClose != nil {
		s.onClose(s, reason)
	}
}

func (s *Session) idleSince(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != domain.SessionClosed && len(s.pending) == 0 && now.Sub(s.lastActivity) >= timeout
}
