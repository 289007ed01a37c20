package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// disconnectGrace delays streaming teardown after a stop request; backend
// inference on a few seconds of audio can itself take seconds.
const disconnectGrace = 2 * time.Second

// StreamingConfig configures the streaming-hypothesis backend.
type StreamingConfig struct {
	Endpoint           string
	Model              string
	TranscriptionDelay time.Duration
	Logger             *slog.Logger
}

// StreamingClient speaks the streaming-hypothesis protocol: one startup
// configuration frame, then raw binary PCM; the server segments audio itself
// and streams hypothesis deltas back.
type StreamingClient struct {
	socket
	cfg StreamingConfig

	// Guarded by socket.mu alongside the connection state.
	activeHypothesis string
	sawDeltaForChunk bool
	deferredClose    *time.Timer
}

var _ Client = (*StreamingClient)(nil)

// NewStreamingClient builds a disconnected client.
func NewStreamingClient(cfg StreamingConfig) *StreamingClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := &StreamingClient{cfg: cfg}
	client.init(logger)
	return client
}

// Connect dials the backend and sends the startup configuration frame. No
// acknowledgment is required; the pending queue flushes immediately after
// the configuration frame goes out.
func (c *StreamingClient) Connect(ctx context.Context) error {
	endpoint, err := wsEndpointURL(c.cfg.Endpoint)
	if err != nil {
		return err
	}

	generation, err := c.dial(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	frame := startupFrame{
		Model:      c.cfg.Model,
		SampleRate: 16000,
		Streaming:  true,
	}
	if c.cfg.TranscriptionDelay > 0 {
		frame.TranscriptionDelayMS = int(c.cfg.TranscriptionDelay.Milliseconds())
	}

	c.mu.Lock()
	conn := c.conn
	c.activeHypothesis = ""
	c.sawDeltaForChunk = false
	c.writeLocked(textJSON(frame))
	c.markReadyLocked()
	c.mu.Unlock()

	go c.readLoop(generation, conn, func(_ int, payload []byte) {
		c.handleMessage(payload)
	})

	c.logger.Info("streaming: connected", "endpoint", endpoint, "model", c.cfg.Model)
	return nil
}

// Disconnect tears the session down immediately, cancelling any deferred
// close.
func (c *StreamingClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopDeferredCloseLocked()
	c.teardownLocked(nil, true)
}

// DisconnectAfterFinalCommitIfNeeded defers teardown by a grace period so
// the backend can finish inference on the trailing audio. The delayed close
// re-checks the connection generation, so a newer session is never torn
// down by a stale timer.
func (c *StreamingClient) DisconnectAfterFinalCommitIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		c.teardownLocked(nil, true)
		return
	}
	generation := c.generation
	c.stopDeferredCloseLocked()
	c.deferredClose = time.AfterFunc(disconnectGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != generation || c.state != StateConnected {
			return
		}
		c.logger.Debug("streaming: deferred disconnect firing")
		c.teardownLocked(nil, true)
	})
}

// SendAudioChunk forwards PCM as a raw binary frame.
func (c *StreamingClient) SendAudioChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	copied := append([]byte(nil), chunk...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueOrSendLocked(outbound{messageType: websocket.BinaryMessage, payload: copied})
}

// SendCommit is a no-op: segmentation is server-driven on this backend.
func (c *StreamingClient) SendCommit(final bool) {
	c.logger.Debug("streaming: commit ignored", "final", final)
}

// SupportsPeriodicCommit reports that explicit commits are unsupported.
func (c *StreamingClient) SupportsPeriodicCommit() bool {
	return false
}

// handleMessage dispatches one inbound frame. Deltas accumulate into the
// active hypothesis; a complete frame is final only when no delta already
// conveyed its text.
func (c *StreamingClient) handleMessage(payload []byte) {
	var msg streamingServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("streaming: unparseable frame", "error", err)
		return
	}

	switch {
	case msg.Type == "delta":
		c.mu.Lock()
		c.activeHypothesis += msg.Delta
		c.sawDeltaForChunk = true
		hypothesis := c.activeHypothesis
		c.mu.Unlock()
		c.emit(Event{Kind: EventPartial, Text: hypothesis})

	case msg.Type == "complete":
		if msg.IsPartial {
			c.mu.Lock()
			c.activeHypothesis = msg.Text
			c.mu.Unlock()
			if msg.Text != "" {
				c.emit(Event{Kind: EventPartial, Text: msg.Text})
			}
			return
		}
		c.mu.Lock()
		sawDelta := c.sawDeltaForChunk
		c.activeHypothesis = ""
		c.sawDeltaForChunk = false
		c.mu.Unlock()
		if sawDelta {
			// The deltas already conveyed this text.
			c.logger.Debug("streaming: dropping redundant complete frame")
			return
		}
		if msg.Text != "" {
			c.emit(Event{Kind: EventFinal, Text: msg.Text})
		}

	case msg.Status != "":
		c.emit(Event{Kind: EventStatus, Text: msg.Status})

	case msg.Error != "" || msg.Message != "":
		c.emit(Event{Kind: EventError, Text: firstNonEmpty(msg.Error, msg.Message)})

	default:
		c.logger.Debug("streaming: ignoring frame", "type", msg.Type)
	}
}

func (c *StreamingClient) stopDeferredCloseLocked() {
	if c.deferredClose != nil {
		c.deferredClose.Stop()
		c.deferredClose = nil
	}
}

type startupFrame struct {
	Model                string `json:"model"`
	SampleRate           int    `json:"sample_rate"`
	Streaming            bool   `json:"streaming"`
	TranscriptionDelayMS int    `json:"transcription_delay_ms,omitempty"`
}

type streamingServerMessage struct {
	Type      string `json:"type"`
	Delta     string `json:"delta"`
	Text      string `json:"text"`
	IsPartial bool   `json:"is_partial"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}
