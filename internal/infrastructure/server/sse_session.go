package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

// sseStream is the outbound half of a stream-pair session: a bounded queue of
// encoded frames drained by the GET handler into the event stream.
type sseStream struct {
	writer http.ResponseWriter
	rc     *http.ResponseController
	queue  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSSEStream(w http.ResponseWriter, queueSize int) *sseStream {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &sseStream{
		writer: w,
		rc:     http.NewResponseController(w),
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Deliver queues a frame for the event stream. It never blocks: a full queue
// means the client is not keeping up and is reported as an error.
func (s *sseStream) Deliver(_ context.Context, frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.queue <- frame:
		return nil
	case <-s.done:
		return ErrStreamClosed
	default:
		return ErrQueueFull
	}
}

func (s *sseStream) writeEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseStream) writeComment(text string) error {
	if _, err := fmt.Fprintf(s.writer, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// run pumps queued frames until the session closes or the client goes away.
// It returns the reason the session should be closed with, or "" when the
// session is already closed.
func (s *sseStream) run(sess *session.Session, keepalive <-chan time.Time, disconnected <-chan struct{}) string {
	for {
		select {
		case frame := <-s.queue:
			if err := s.writeEvent("message", frame); err != nil {
				return session.ReasonTransportError
			}
		case <-keepalive:
			if err := s.writeComment("keepalive"); err != nil {
				return session.ReasonTransportError
			}
		case <-sess.Done():
			s.drain()
			return ""
		case <-disconnected:
			return session.ReasonDisconnect
		}
	}
}

// drain writes whatever was queued before the session closed.
func (s *sseStream) drain() {
	for {
		select {
		case frame := <-s.queue:
			if err := s.writeEvent("message", frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *sseStream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
