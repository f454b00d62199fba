package server

import "github.com/pkg/errors"

// Common errors in the server package
var (
	// ErrResponseWriterNotFlusher is returned when the ResponseWriter doesn't support Flusher interface
	ErrResponseWriterNotFlusher = errors.New("response writer does not implement http.Flusher")

	// ErrStreamClosed is returned when delivering to a stream whose writer has stopped
	ErrStreamClosed = errors.New("stream is closed")

	// ErrQueueFull is returned when a stream's outbound queue cannot take another frame
	ErrQueueFull = errors.New("outbound queue is full")
)
