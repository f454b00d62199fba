package transport

import (
	"context"
)

// Outbound delivers encoded response frames to a peer. Implementations must
// not block indefinitely; a transport that cannot take the frame returns an
// error and the session is torn down.
type Outbound interface {
	Deliver(ctx context.Context, frame []byte) error
}

// OutboundFunc adapts a function to Outbound
type OutboundFunc func(ctx context.Context, frame []byte) error

// Deliver calls f
func (f OutboundFunc) Deliver(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}
