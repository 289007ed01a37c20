// Package protocol implements the websocket clients for the transcription
// backends. Both variants share one connection lifecycle: a single mutex per
// client guards all state, outbound messages queue until the handshake
// completes, and every terminal socket failure funnels through one teardown
// path.
package protocol

import (
	"context"
	"fmt"
	"strings"
)

// State is the connection state of one socket session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind labels one backend event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventStatus
	EventPartial
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventStatus:
		return "status"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one message surfaced from a backend client.
type Event struct {
	Kind EventKind
	Text string
}

// Client is the contract every backend variant satisfies.
type Client interface {
	// Connect establishes the socket session. Reconnecting after a
	// disconnect requires a fresh Connect call.
	Connect(ctx context.Context) error

	// Disconnect tears the session down immediately. Idempotent and
	// user-initiated: the resulting socket close never emits an error event.
	Disconnect()

	// DisconnectAfterFinalCommitIfNeeded is the graceful variant used when
	// stopping dictation.
	DisconnectAfterFinalCommitIfNeeded()

	SendAudioChunk(chunk []byte)

	// SendCommit requests transcript generation. Non-final commits are
	// ignored by backends that do not support periodic commit.
	SendCommit(final bool)

	SupportsPeriodicCommit() bool

	State() State

	Events() <-chan Event
}

// wsEndpointURL normalizes an endpoint to a websocket scheme.
func wsEndpointURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is empty")
	}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "wss://"), strings.HasPrefix(endpoint, "ws://"):
	default:
		endpoint = "ws://" + endpoint
	}
	return strings.TrimRight(endpoint, "/"), nil
}

// firstNonEmpty returns the first non-empty candidate. Backends have shipped
// several field names for transcript payloads over time.
func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
