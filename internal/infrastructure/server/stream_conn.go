package server

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/framing"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

const readChunkSize = 32 * 1024

// StreamConn carries newline-delimited frames in both directions over any
// reader/writer pair. Frames are decoded and answered in arrival order; only
// tool calls run in their own goroutine, so their responses go out in
// completion order.
type StreamConn struct {
	reader   io.Reader
	writer   io.Writer
	flush    func() error
	exchange *Exchange
	maxFrame int
	logger   *logging.Logger

	mu     sync.Mutex
	closed bool

	spawnMu  sync.Mutex
	stopping bool
	inflight conc.WaitGroup

	callsMu sync.Mutex
	calls   map[chan struct{}]struct{}
}

// StreamConnOption configures a StreamConn
type StreamConnOption func(*StreamConn)

// WithFlush sets a function called after every frame is written.
func WithFlush(flush func() error) StreamConnOption {
	return func(c *StreamConn) {
		c.flush = flush
	}
}

// WithMaxFrameBytes bounds the size of an inbound frame.
func WithMaxFrameBytes(n int) StreamConnOption {
	return func(c *StreamConn) {
		c.maxFrame = n
	}
}

// WithConnLogger sets the logger
func WithConnLogger(logger *logging.Logger) StreamConnOption {
	return func(c *StreamConn) {
		c.logger = logger
	}
}

// NewStreamConn creates a connection reading frames from r and writing
// responses to w.
func NewStreamConn(r io.Reader, w io.Writer, exchange *Exchange, opts ...StreamConnOption) *StreamConn {
	c := &StreamConn{
		reader:   r,
		writer:   w,
		exchange: exchange,
		maxFrame: defaultMaxBodyBytes,
		logger:   logging.Default(),
		calls:    make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver writes one frame followed by a newline. Writes are serialized so
// frames never interleave.
func (c *StreamConn) Deliver(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrStreamClosed
	}
	if _, err := c.writer.Write(append(frame[:len(frame):len(frame)], '\n')); err != nil {
		return errors.Wrap(err, "write frame")
	}
	if c.flush != nil {
		if err := c.flush(); err != nil {
			return errors.Wrap(err, "flush frame")
		}
	}
	return nil
}

// Serve reads frames for sess until the reader ends or the session closes.
// Calls still in flight when the reader reaches EOF are allowed to finish
// and deliver; a read failure closes the session and cancels them. Serve
// never writes after it returns.
func (c *StreamConn) Serve(sess *session.Session) error {
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(sess)
	}()

	var err error
	select {
	case err = <-readErr:
		if err != nil {
			c.logger.Debug("connection read failed", logging.Fields{"session_id": sess.ID(), "error": err})
			sess.Close(session.ReasonTransportError)
		}
	case <-sess.Done():
	}

	c.spawnMu.Lock()
	c.stopping = true
	c.spawnMu.Unlock()

	c.inflight.Wait()
	sess.Close(session.ReasonDisconnect)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *StreamConn) readLoop(sess *session.Session) error {
	buf := framing.NewBuffer(c.maxFrame)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := c.reader.Read(chunk)
		if n > 0 {
			_, _ = buf.Write(chunk[:n])
			c.drainFrames(sess, buf)
		}
		if err == io.EOF {
			frame, ferr := buf.Flush()
			c.handleFrame(sess, frame, ferr)
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}
		select {
		case <-sess.Done():
			return nil
		default:
		}
	}
}

func (c *StreamConn) drainFrames(sess *session.Session, buf *framing.Buffer) {
	for {
		frame, err := buf.Next()
		if frame == nil && err == nil {
			return
		}
		c.handleFrame(sess, frame, err)
	}
}

// handleFrame runs on the read loop. Everything but a tool call is answered
// before the next frame is read.
func (c *StreamConn) handleFrame(sess *session.Session, frame []byte, err error) {
	if errors.Is(err, framing.ErrFrameTooLarge) {
		err = sherrors.NewFrameError(fmt.Sprintf("frame exceeds %d bytes", c.maxFrame), nil)
	}
	if err != nil {
		c.reject(sess, nil, sherrors.ToJSONRPC(err))
		return
	}
	if frame == nil {
		return
	}

	req, decodeErr := c.exchange.Decode(sess, frame)
	if decodeErr != nil {
		c.reject(sess, decodeErr.ID, decodeErr.Err)
		return
	}
	if run := c.exchange.Accept(sess, req); run != nil {
		c.startCall(run)
	}
}

// reject answers a bad frame once every tool call read before it has been
// answered.
func (c *StreamConn) reject(sess *session.Session, id shared.ID, rpcErr *shared.JSONRPCError) {
	c.callsMu.Lock()
	earlier := make([]chan struct{}, 0, len(c.calls))
	for done := range c.calls {
		earlier = append(earlier, done)
	}
	c.callsMu.Unlock()

	if len(earlier) == 0 {
		c.exchange.Reject(sess, id, rpcErr)
		return
	}
	c.spawn(func() {
		for _, done := range earlier {
			<-done
		}
		c.exchange.Reject(sess, id, rpcErr)
	})
}

func (c *StreamConn) startCall(run func()) {
	done := make(chan struct{})
	c.callsMu.Lock()
	c.calls[done] = struct{}{}
	c.callsMu.Unlock()

	finish := func() {
		c.callsMu.Lock()
		delete(c.calls, done)
		c.callsMu.Unlock()
		close(done)
	}
	if !c.spawn(func() {
		defer finish()
		run()
	}) {
		finish()
	}
}

// spawn starts f unless Serve is already waiting for in-flight work.
func (c *StreamConn) spawn(f func()) bool {
	c.spawnMu.Lock()
	defer c.spawnMu.Unlock()
	if c.stopping {
		return false
	}
	c.inflight.Go(f)
	return true
}
