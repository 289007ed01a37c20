package protocol

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestSocket() *socket {
	s := &socket{}
	s.init(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s
}

// connectTestSocket fakes an established connection without a live server.
// conn stays nil, so writes are no-ops; all queueing and state logic still
// runs.
func connectTestSocket(s *socket) {
	s.mu.Lock()
	s.state = StateConnected
	s.generation++
	s.mu.Unlock()
}

func TestSocketQueuesUntilReady(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	s.queueOrSendLocked(outbound{messageType: websocket.TextMessage, payload: []byte("a")})
	s.queueOrSendLocked(outbound{messageType: websocket.TextMessage, payload: []byte("b")})
	require.Len(t, s.pending, 2)

	s.markReadyLocked()
	require.Empty(t, s.pending)
	require.True(t, s.ready)

	// Ready sockets bypass the queue.
	s.queueOrSendLocked(outbound{messageType: websocket.TextMessage, payload: []byte("c")})
	require.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestSocketDropsMessagesWhenDisconnected(t *testing.T) {
	s := newTestSocket()

	s.mu.Lock()
	s.queueOrSendLocked(outbound{messageType: websocket.TextMessage, payload: []byte("a")})
	require.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestSocketTeardownEmitsErrorThenDisconnected(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	s.teardownLocked(errors.New("boom"), false)
	s.mu.Unlock()

	require.Equal(t, EventError, nextEvent(t, s.Events()).Kind)
	require.Equal(t, EventDisconnected, nextEvent(t, s.Events()).Kind)
	require.Equal(t, StateDisconnected, s.State())
}

func TestSocketUserInitiatedTeardownSuppressesError(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	s.teardownLocked(errors.New("closed by caller"), true)
	s.mu.Unlock()

	require.Equal(t, EventDisconnected, nextEvent(t, s.Events()).Kind)
	requireNoEvent(t, s.Events())
}

func TestSocketTeardownSuppressesOrderlyClose(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	closeErr := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	s.mu.Lock()
	s.teardownLocked(closeErr, false)
	s.mu.Unlock()

	require.Equal(t, EventDisconnected, nextEvent(t, s.Events()).Kind)
	requireNoEvent(t, s.Events())
}

func TestSocketTeardownIsIdempotent(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	s.teardownLocked(nil, true)
	s.teardownLocked(errors.New("late"), false)
	s.mu.Unlock()

	require.Equal(t, EventDisconnected, nextEvent(t, s.Events()).Kind)
	requireNoEvent(t, s.Events())
}

func TestSocketTeardownDropsQueue(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	s.queueOrSendLocked(outbound{messageType: websocket.TextMessage, payload: []byte("a")})
	s.teardownLocked(nil, true)
	require.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestSocketTeardownBumpsGeneration(t *testing.T) {
	s := newTestSocket()
	connectTestSocket(s)

	s.mu.Lock()
	before := s.generation
	s.teardownLocked(nil, true)
	require.Greater(t, s.generation, before)
	s.mu.Unlock()
}
