package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// outbound is one queued wire message.
type outbound struct {
	messageType int
	payload     []byte
}

// socket is the shared connection core embedded by both client variants.
// Every field is guarded by mu; methods with a Locked suffix require the
// caller to hold it. The generation counter fences callbacks from stale
// read loops and timers so they can never tear down a newer connection.
type socket struct {
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	generation int
	pending    []outbound
	ready      bool

	events chan Event
}

func (s *socket) init(logger *slog.Logger) {
	s.logger = logger
	s.events = make(chan Event, 64)
}

// Events returns the client's event stream.
func (s *socket) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// emit delivers an event without blocking; a full consumer drops the event
// rather than stalling the network goroutine.
func (s *socket) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("protocol: event dropped, consumer behind", "kind", event.Kind.String())
	}
}

// dial opens the websocket and transitions disconnected -> connecting ->
// connected. It returns the generation fencing this connection's callbacks.
func (s *socket) dial(ctx context.Context, endpoint string, header http.Header) (int, error) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return 0, fmt.Errorf("connect: client is %s", s.state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return 0, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnected})
	return generation, nil
}

// queueOrSendLocked writes the message if the handshake completed, queues it
// while the handshake is outstanding, and drops it when disconnected.
func (s *socket) queueOrSendLocked(msg outbound) {
	switch {
	case s.state == StateDisconnected:
		s.logger.Debug("protocol: dropping message, not connected")
	case !s.ready:
		s.pending = append(s.pending, msg)
	default:
		s.writeLocked(msg)
	}
}

// writeLocked performs one synchronous write. A write failure is a terminal
// socket error.
func (s *socket) writeLocked(msg outbound) {
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(msg.messageType, msg.payload); err != nil {
		s.teardownLocked(err, false)
	}
}

// markReadyLocked completes the handshake and flushes the pending queue in
// order.
func (s *socket) markReadyLocked() {
	if s.ready {
		return
	}
	s.ready = true
	pending := s.pending
	s.pending = nil
	for _, msg := range pending {
		if s.state != StateConnected {
			return
		}
		s.writeLocked(msg)
	}
}

// teardownLocked is the single terminal path for every disconnect cause.
// An error event precedes the disconnected event only when the teardown was
// not user-initiated.
func (s *socket) teardownLocked(err error, userInitiated bool) {
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	s.generation++
	s.ready = false
	s.pending = nil
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	if err != nil && !userInitiated && !isExpectedClose(err) {
		s.logger.Warn("protocol: socket failed", "error", err)
		s.emit(Event{Kind: EventError, Text: err.Error()})
	}
	s.emit(Event{Kind: EventDisconnected})
}

// readLoop pumps inbound messages into handle until the socket dies. The
// generation check keeps a stale loop from tearing down a replacement
// connection.
func (s *socket) readLoop(generation int, conn *websocket.Conn, handle func(messageType int, payload []byte)) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.generation == generation {
				// err stays unwrapped so close-code inspection works.
				s.teardownLocked(err, false)
			}
			s.mu.Unlock()
			return
		}
		handle(messageType, payload)
	}
}

// isExpectedClose reports whether err is an orderly websocket shutdown.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
