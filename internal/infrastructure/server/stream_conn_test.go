package server_test

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/logging"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/server"
	"github.com/FreePeak/golang-mcp-gateway/internal/infrastructure/session"
)

type connHarness struct {
	t     *testing.T
	gw    *gateway
	in    *io.PipeWriter
	lines chan string
	sess  *session.Session
	done  chan error
}

func startConn(t *testing.T, opts ...server.StreamConnOption) *connHarness {
	t.Helper()
	gw := newGateway(t)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts = append([]server.StreamConnOption{server.WithConnLogger(logging.NewNop())}, opts...)
	conn := server.NewStreamConn(inR, outW, gw.exchange, opts...)
	sess := gw.manager.Create(domain.TransportStreamable, conn)

	h := &connHarness{
		t:     t,
		gw:    gw,
		in:    inW,
		lines: make(chan string, 64),
		sess:  sess,
		done:  make(chan error, 1),
	}

	go func() {
		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
		close(h.lines)
	}()
	go func() {
		h.done <- conn.Serve(sess)
		_ = outW.Close()
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
		}
	})
	return h
}

func (h *connHarness) send(frames ...string) {
	h.t.Helper()
	_, err := io.WriteString(h.in, strings.Join(frames, "\n")+"\n")
	require.NoError(h.t, err)
}

func (h *connHarness) next() rpcResponse {
	h.t.Helper()
	select {
	case line, ok := <-h.lines:
		require.True(h.t, ok, "connection closed")
		return parseResponse(h.t, line)
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for a response")
		return rpcResponse{}
	}
}

func (h *connHarness) expectNothing(d time.Duration) {
	h.t.Helper()
	select {
	case line, ok := <-h.lines:
		if ok {
			h.t.Fatalf("unexpected frame: %s", line)
		}
	case <-time.After(d):
	}
}

func TestStreamConnPingBeforeSlowCall(t *testing.T) {
	h := startConn(t)

	h.send(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow","arguments":{"ms":300}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)

	first := h.next()
	assert.Equal(t, "2", string(first.ID))
	assert.JSONEq(t, `{}`, string(first.Result))

	second := h.next()
	assert.Equal(t, "1", string(second.ID))
	assert.JSONEq(t, `{"slept":300}`, string(second.Result))
}

func TestStreamConnRespondsInCompletionOrder(t *testing.T) {
	h := startConn(t)

	h.send(
		`{"jsonrpc":"2.0","id":"A","method":"tools/call","params":{"name":"slow","arguments":{"ms":200}}}`,
		`{"jsonrpc":"2.0","id":"B","method":"tools/call","params":{"name":"echo","arguments":{"text":"fast"}}}`,
	)

	assert.Equal(t, `"B"`, string(h.next().ID))
	assert.Equal(t, `"A"`, string(h.next().ID))
}

func TestStreamConnMalformedFrameKeepsConnection(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	good := h.next()
	assert.Equal(t, "1", string(good.ID))
	assert.Nil(t, good.Error)

	h.send(`{"jsonrpc":"2.0","id":2,"method":`)
	bad := h.next()
	assert.Equal(t, "null", string(bad.ID))
	require.NotNil(t, bad.Error)
	assert.Equal(t, int(shared.ParseError), bad.Error.Code)

	h.send(`{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	assert.Equal(t, "3", string(h.next().ID))
}

func TestStreamConnAnswersGoodThenMalformedInOrder(t *testing.T) {
	tests := []struct {
		name string
		good string
	}{
		{"ping", `{"jsonrpc":"2.0","id":1,"method":"ping"}`},
		{"tool call", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`},
		{"slow tool call", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow","arguments":{"ms":30}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				h := startConn(t)
				// both frames arrive in a single read
				h.send(tt.good, `not json`)

				first := h.next()
				assert.Equal(t, "1", string(first.ID))
				assert.Nil(t, first.Error)

				second := h.next()
				assert.Equal(t, "null", string(second.ID))
				require.NotNil(t, second.Error)
				assert.Equal(t, int(shared.ParseError), second.Error.Code)

				h.send(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
				assert.Equal(t, "2", string(h.next().ID))
			}
		})
	}
}

func TestStreamConnBadFrameWaitsForEarlierToolCall(t *testing.T) {
	h := startConn(t)

	h.send(
		`{"jsonrpc":"2.0","id":"A","method":"tools/call","params":{"name":"slow","arguments":{"ms":300}}}`,
		`{"jsonrpc":"2.0","id":"B",`,
		`{"jsonrpc":"2.0","id":"C","method":"ping"}`,
	)

	assert.Equal(t, `"C"`, string(h.next().ID))
	assert.Equal(t, `"A"`, string(h.next().ID))
	bad := h.next()
	require.NotNil(t, bad.Error)
	assert.Equal(t, int(shared.ParseError), bad.Error.Code)
}

func TestStreamConnFrameSplitAcrossWrites(t *testing.T) {
	h := startConn(t)

	_, err := io.WriteString(h.in, `{"jsonrpc":"2.0","id":"sp`)
	require.NoError(t, err)
	h.expectNothing(30 * time.Millisecond)

	_, err = io.WriteString(h.in, "lit\",\"method\":\"ping\"}\r\n\n")
	require.NoError(t, err)
	assert.Equal(t, `"split"`, string(h.next().ID))
}

func TestStreamConnIDsRoundTripVerbatim(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":1.50,"method":"ping"}`)
	assert.Equal(t, "1.50", string(h.next().ID))

	h.send(`{"jsonrpc":"2.0","id":"01","method":"ping"}`)
	assert.Equal(t, `"01"`, string(h.next().ID))
}

func TestStreamConnOversizedFrame(t *testing.T) {
	h := startConn(t, server.WithMaxFrameBytes(64))

	h.send(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 100) + `"}}`)
	resp := h.next()
	assert.Equal(t, "null", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, int(shared.ParseError), resp.Error.Code)
	assert.Equal(t, "frame exceeds 64 bytes", resp.Error.Message)

	h.send(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, "2", string(h.next().ID))
}

func TestStreamConnDuplicateInFlightID(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"slow","arguments":{"ms":200}}}`)
	require.Eventually(t, func() bool { return h.sess.InFlight() == 1 }, waitTimeout, 5*time.Millisecond)

	h.send(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	dup := h.next()
	assert.Equal(t, "7", string(dup.ID))
	require.NotNil(t, dup.Error)
	assert.Equal(t, int(shared.InvalidRequest), dup.Error.Code)
	assert.Equal(t, "duplicate request id", dup.Error.Message)

	original := h.next()
	assert.Equal(t, "7", string(original.ID))
	assert.Nil(t, original.Error)
	h.expectNothing(50 * time.Millisecond)
}

func TestStreamConnCancelledCallHasNoResponse(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"slow","arguments":{"ms":5000}}}`)
	require.Eventually(t, func() bool { return h.sess.InFlight() == 1 }, waitTimeout, 5*time.Millisecond)

	h.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":5,"reason":"user"}}`)
	select {
	case <-h.gw.exec.Cancelled:
	case <-time.After(waitTimeout):
		t.Fatal("executor was not cancelled")
	}

	h.send(`{"jsonrpc":"2.0","id":6,"method":"ping"}`)
	assert.Equal(t, "6", string(h.next().ID))
	h.expectNothing(50 * time.Millisecond)
}

func TestStreamConnFinishesPendingCallsAtEOF(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow","arguments":{"ms":50}}}`)
	_, err := io.WriteString(h.in, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.NoError(t, err)
	require.NoError(t, h.in.Close())

	ids := []string{string(h.next().ID), string(h.next().ID)}
	assert.ElementsMatch(t, []string{"1", "2"}, ids)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, domain.SessionClosed, h.sess.State())
	assert.Equal(t, session.ReasonDisconnect, h.sess.CloseReason())
}

func TestStreamConnReadErrorClosesSession(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow","arguments":{"ms":5000}}}`)
	require.Eventually(t, func() bool { return h.sess.InFlight() == 1 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.in.CloseWithError(errors.New("connection reset")))

	select {
	case err := <-h.done:
		assert.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, session.ReasonTransportError, h.sess.CloseReason())
	select {
	case <-h.gw.exec.Cancelled:
	case <-time.After(waitTimeout):
		t.Fatal("pending call was not cancelled")
	}
}

func TestStreamConnServeReturnsWhenSessionCloses(t *testing.T) {
	h := startConn(t)

	h.send(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	h.next()

	require.NoError(t, h.gw.manager.Close(h.sess.ID()))
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, session.ReasonClientClose, h.sess.CloseReason())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStreamConnWriteFailureClosesSession(t *testing.T) {
	gw := newGateway(t)
	inR, inW := io.Pipe()
	defer inW.Close()

	conn := server.NewStreamConn(inR, failingWriter{}, gw.exchange, server.WithConnLogger(logging.NewNop()))
	sess := gw.manager.Create(domain.TransportStreamable, conn)

	done := make(chan error, 1)
	go func() { done <- conn.Serve(sess) }()

	_, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, session.ReasonTransportError, sess.CloseReason())
	assert.Equal(t, 0, gw.manager.Count())
}
