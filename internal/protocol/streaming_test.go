package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newConnectedStreaming() *StreamingClient {
	client := NewStreamingClient(StreamingConfig{Endpoint: "ws://localhost:1", Model: "parakeet"})
	connectTestSocket(&client.socket)
	client.mu.Lock()
	client.markReadyLocked()
	client.mu.Unlock()
	return client
}

func TestStreamingDeltasAccumulate(t *testing.T) {
	client := newConnectedStreaming()

	client.handleMessage([]byte(`{"type":"delta","delta":"hel"}`))
	require.Equal(t, Event{Kind: EventPartial, Text: "hel"}, nextEvent(t, client.Events()))

	client.handleMessage([]byte(`{"type":"delta","delta":"lo there"}`))
	require.Equal(t, Event{Kind: EventPartial, Text: "hello there"}, nextEvent(t, client.Events()))
}

func TestStreamingCompleteAfterDeltasIsRedundant(t *testing.T) {
	client := newConnectedStreaming()

	client.handleMessage([]byte(`{"type":"delta","delta":"hello"}`))
	nextEvent(t, client.Events())

	client.handleMessage([]byte(`{"type":"complete","text":"hello","is_partial":false}`))
	requireNoEvent(t, client.Events())

	// The next chunk starts clean: a complete with no preceding delta is a
	// real final.
	client.handleMessage([]byte(`{"type":"complete","text":"next segment","is_partial":false}`))
	require.Equal(t, Event{Kind: EventFinal, Text: "next segment"}, nextEvent(t, client.Events()))
}

func TestStreamingPartialCompleteReplacesHypothesis(t *testing.T) {
	client := newConnectedStreaming()

	client.handleMessage([]byte(`{"type":"complete","text":"working copy","is_partial":true}`))
	require.Equal(t, Event{Kind: EventPartial, Text: "working copy"}, nextEvent(t, client.Events()))

	client.mu.Lock()
	require.Equal(t, "working copy", client.activeHypothesis)
	client.mu.Unlock()
}

func TestStreamingStatusAndErrorFrames(t *testing.T) {
	client := newConnectedStreaming()

	client.handleMessage([]byte(`{"status":"ready"}`))
	require.Equal(t, Event{Kind: EventStatus, Text: "ready"}, nextEvent(t, client.Events()))

	client.handleMessage([]byte(`{"error":"model not loaded"}`))
	require.Equal(t, Event{Kind: EventError, Text: "model not loaded"}, nextEvent(t, client.Events()))

	client.handleMessage([]byte(`{"message":"shutting down"}`))
	require.Equal(t, Event{Kind: EventError, Text: "shutting down"}, nextEvent(t, client.Events()))
}

func TestStreamingCommitIsNoOp(t *testing.T) {
	client := newConnectedStreaming()
	require.False(t, client.SupportsPeriodicCommit())

	client.SendCommit(false)
	client.SendCommit(true)
	require.Empty(t, client.pending)
	requireNoEvent(t, client.Events())
}

func TestStreamingDisconnectAfterFinalCommitDefers(t *testing.T) {
	client := newConnectedStreaming()

	client.DisconnectAfterFinalCommitIfNeeded()

	// Teardown is deferred, not immediate.
	require.Equal(t, StateConnected, client.State())
	requireNoEvent(t, client.Events())

	require.Eventually(t, func() bool {
		return client.State() == StateDisconnected
	}, 2*disconnectGrace, 50*time.Millisecond)
	require.Equal(t, EventDisconnected, nextEvent(t, client.Events()).Kind)
}

func TestStreamingDisconnectCancelsDeferredClose(t *testing.T) {
	client := newConnectedStreaming()

	client.DisconnectAfterFinalCommitIfNeeded()
	client.Disconnect()
	require.Equal(t, EventDisconnected, nextEvent(t, client.Events()).Kind)

	// The cancelled timer must not emit a second disconnect.
	time.Sleep(disconnectGrace + 200*time.Millisecond)
	requireNoEvent(t, client.Events())
}

func TestStreamingDisconnectAfterFinalCommitWhenAlreadyDisconnected(t *testing.T) {
	client := NewStreamingClient(StreamingConfig{Endpoint: "ws://localhost:1"})
	client.DisconnectAfterFinalCommitIfNeeded()
	requireNoEvent(t, client.Events())
	require.Equal(t, StateDisconnected, client.State())
}

func TestStreamingIgnoresUnparseableFrames(t *testing.T) {
	client := newConnectedStreaming()
	client.handleMessage([]byte(`{{`))
	requireNoEvent(t, client.Events())
}
