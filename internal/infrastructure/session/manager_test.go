package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/testutil"
)

type recordingObserver struct {
	mu      sync.Mutex
	opened  int
	reasons []string
}

func (o *recordingObserver) SessionOpened(domain.TransportKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) SessionClosed(_ domain.TransportKind, reason string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
}

func (o *recordingObserver) closed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.reasons...)
}

func newTestManager(t *testing.T, config Config) (*Manager, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	config.Clock = clock
	config.Logger = logging.NewNop()
	return NewManager(config), clock
}

func TestManagerCreateAndGet(t *testing.T) {
	dir := NewMemoryDirectory()
	obs := &recordingObserver{}
	m, _ := newTestManager(t, Config{Directory: dir, Observer: obs})

	s := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, domain.TransportStreamPair, s.Transport())
	assert.Equal(t, domain.SessionCreated, s.State())
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, obs.opened)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	entries, err := dir.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID(), entries[0].ID)

	_, err = m.Get("nope")
	require.Error(t, err)
	assert.Equal(t, sherrors.KindSession, sherrors.KindOf(err))
	assert.Equal(t, int(shared.SessionNotFound), sherrors.ToJSONRPC(err).Code)
}

func TestSessionIDsAreUnique(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())
		assert.False(t, seen[s.ID()])
		seen[s.ID()] = true
		s.Close(ReasonClientClose)
	}
}

func TestDeliverMarksActive(t *testing.T) {
	out := testutil.NewMockOutbound()
	m, _ := newTestManager(t, Config{})
	s := m.Create(domain.TransportStreamable, out)

	require.NoError(t, s.Deliver(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	assert.Equal(t, domain.SessionActive, s.State())
	assert.Len(t, out.Frames(), 1)
}

func TestDeliverFailureClosesSession(t *testing.T) {
	out := testutil.NewMockOutbound()
	out.Err = errors.New("broken pipe")
	obs := &recordingObserver{}
	m, _ := newTestManager(t, Config{Observer: obs})
	s := m.Create(domain.TransportStreamable, out)

	err := s.Deliver(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.Equal(t, sherrors.KindTransport, sherrors.KindOf(err))
	assert.Equal(t, domain.SessionClosed, s.State())
	assert.Equal(t, ReasonTransportError, s.CloseReason())
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, []string{ReasonTransportError}, obs.closed())
}

func TestBeginCallRejectsDuplicateID(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	pc, err := s.BeginCall(shared.NewID("1"), shared.MethodCallTool)
	require.NoError(t, err)

	_, err = s.BeginCall(shared.NewID("1"), shared.MethodPing)
	rpcErr := sherrors.ToJSONRPC(err)
	assert.Equal(t, int(shared.InvalidRequest), rpcErr.Code)
	assert.Equal(t, "duplicate request id", rpcErr.Message)

	// a string id with the same digits is a different id
	_, err = s.BeginCall(shared.NewID(`"1"`), shared.MethodPing)
	assert.NoError(t, err)

	s.EndCall(pc)
	_, err = s.BeginCall(shared.NewID("1"), shared.MethodPing)
	assert.NoError(t, err)
}

func TestPendingCallEndsExactlyOnce(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	pc, err := s.BeginCall(shared.NewID("7"), shared.MethodCallTool)
	require.NoError(t, err)
	assert.True(t, s.CancelCall(shared.NewID("7")))
	assert.False(t, pc.Resolve())
	assert.True(t, pc.Cancelled())
	assert.Error(t, pc.Context().Err())
	assert.False(t, s.CancelCall(shared.NewID("7")))

	pc2, err := s.BeginCall(shared.NewID("8"), shared.MethodCallTool)
	require.NoError(t, err)
	assert.True(t, pc2.Resolve())
	assert.False(t, pc2.Cancel())
	assert.False(t, pc2.Cancelled())
	assert.NoError(t, pc2.Context().Err())

	assert.False(t, s.CancelCall(shared.NewID("99")))
}

func TestPendingCallRaceHasOneWinner(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	for i := 0; i < 100; i++ {
		pc, err := s.BeginCall(shared.NewID(strconv.Itoa(i)), shared.MethodCallTool)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]bool, 2)
		wg.Add(2)
		go func() { defer wg.Done(); results[0] = pc.Resolve() }()
		go func() { defer wg.Done(); results[1] = pc.Cancel() }()
		wg.Wait()

		assert.NotEqual(t, results[0], results[1])
		s.EndCall(pc)
	}
}

func TestCloseWithoutPendingCallsIsImmediate(t *testing.T) {
	dir := NewMemoryDirectory()
	m, _ := newTestManager(t, Config{Directory: dir})
	s := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())

	require.NoError(t, m.Close(s.ID()))
	assert.Equal(t, domain.SessionClosed, s.State())
	assert.Equal(t, ReasonClientClose, s.CloseReason())
	assert.Equal(t, 0, m.Count())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}

	entries, err := dir.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = m.Close(s.ID())
	require.Error(t, err)
	assert.Equal(t, sherrors.KindSession, sherrors.KindOf(err))
}

func TestCloseDrainsPendingCalls(t *testing.T) {
	m, _ := newTestManager(t, Config{DrainTimeout: 5 * time.Second})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	pc, err := s.BeginCall(shared.NewID("1"), shared.MethodCallTool)
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID()))
	assert.Equal(t, domain.SessionClosing, s.State())

	_, err = m.Open(s.ID())
	require.Error(t, err)
	assert.Equal(t, sherrors.KindSession, sherrors.KindOf(err))
	assert.Contains(t, err.Error(), "is closing")

	_, err = s.BeginCall(shared.NewID("2"), shared.MethodPing)
	rpcErr := sherrors.ToJSONRPC(err)
	assert.Equal(t, "session is closing", rpcErr.Message)

	// the in-flight call still completes normally
	assert.NoError(t, pc.Context().Err())
	assert.True(t, pc.Resolve())
	s.EndCall(pc)

	assert.Equal(t, domain.SessionClosed, s.State())
	assert.Equal(t, 0, m.Count())
}

func TestDrainTimeoutForcesClose(t *testing.T) {
	m, clock := newTestManager(t, Config{DrainTimeout: 5 * time.Second})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	pc, err := s.BeginCall(shared.NewID("1"), shared.MethodCallTool)
	require.NoError(t, err)

	s.BeginClose()
	assert.Equal(t, domain.SessionClosing, s.State())

	clock.Advance(4 * time.Second)
	assert.Equal(t, domain.SessionClosing, s.State())

	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool {
		return s.State() == domain.SessionClosed
	}, time.Second, 5*time.Millisecond)

	assert.True(t, pc.Cancelled())
	assert.Error(t, pc.Context().Err())
	assert.False(t, pc.Resolve())
}

func TestReapClosesIdleSessions(t *testing.T) {
	obs := &recordingObserver{}
	m, clock := newTestManager(t, Config{IdleTimeout: time.Minute, Observer: obs})

	idle := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	busy := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	fresh := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	pc, err := busy.BeginCall(shared.NewID("1"), shared.MethodCallTool)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	fresh.Touch()
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, m.Reap())
	assert.Equal(t, domain.SessionClosed, idle.State())
	assert.Equal(t, ReasonIdleTimeout, idle.CloseReason())
	assert.True(t, busy.State().Open())
	assert.True(t, fresh.State().Open())
	assert.Equal(t, []string{ReasonIdleTimeout}, obs.closed())

	busy.EndCall(pc)
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, m.Reap())
	assert.Equal(t, 0, m.Count())
}

func TestReapDisabledWithoutIdleTimeout(t *testing.T) {
	m, clock := newTestManager(t, Config{})
	m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, m.Reap())
	assert.Equal(t, 1, m.Count())
}

func TestRunClosesEverythingOnShutdown(t *testing.T) {
	m, _ := newTestManager(t, Config{IdleTimeout: time.Minute})
	a := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	b := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, ReasonShutdown, a.CloseReason())
	assert.Equal(t, ReasonShutdown, b.CloseReason())
	assert.Equal(t, 0, m.Count())
}

func TestAcquireCallBoundsConcurrency(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxInFlightCalls: 1})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	release, err := s.AcquireCall(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.AcquireCall(ctx)
	assert.Error(t, err)

	release()
	release2, err := s.AcquireCall(context.Background())
	require.NoError(t, err)
	release2()
}

func TestSnapshotOrderedByCreation(t *testing.T) {
	m, clock := newTestManager(t, Config{})
	first := m.Create(domain.TransportStreamPair, testutil.NewMockOutbound())
	clock.Advance(time.Second)
	second := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())

	infos := m.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID(), infos[0].ID)
	assert.Equal(t, second.ID(), infos[1].ID)
	assert.Equal(t, "created", infos[0].State)
}

func TestSetClientAppearsInInfo(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	s := m.Create(domain.TransportStreamable, testutil.NewMockOutbound())
	s.SetClient("2025-03-26", shared.Implementation{Name: "inspector", Version: "1.0"})

	info := s.Info()
	assert.Equal(t, "2025-03-26", info.ProtocolVersion)
	assert.Equal(t, "inspector", info.Client.Name)
}
