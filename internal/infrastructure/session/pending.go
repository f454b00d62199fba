package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

const (
	callPending int32 = iota
	callResolved
	callCancelled
)

// PendingCall tracks one in-flight request. It ends exactly once, either
// resolved by its response or cancelled; the loser of that race is a no-op.
type PendingCall struct {
	ID        shared.ID
	SessionID string
	Method    string
	Started   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
}

func newPendingCall(parent context.Context, sessionID string, id shared.ID, method string, now time.Time) *PendingCall {
	ctx, cancel := context.WithCancel(parent)
	return &PendingCall{
		ID:        id,
		SessionID: sessionID,
		Method:    method,
		Started:   now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context is cancelled when the call is cancelled or its session closes.
func (p *PendingCall) Context() context.Context {
	return p.ctx
}

// Resolve claims the right to deliver a response. It returns false if the
// call was already cancelled or resolved.
func (p *PendingCall) Resolve() bool {
	return p.state.CompareAndSwap(callPending, callResolved)
}

// Cancel cancels the call. It returns false if the call already ended.
func (p *PendingCall) Cancel() bool {
	if !p.state.CompareAndSwap(callPending, callCancelled) {
		return false
	}
	p.cancel()
	return true
}

// Cancelled reports whether the call ended by cancellation.
func (p *PendingCall) Cancelled() bool {
	return p.state.Load() == callCancelled
}
