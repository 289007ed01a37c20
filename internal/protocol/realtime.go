package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	keepaliveInterval    = 30 * time.Second
	sessionReadyFallback = 3 * time.Second
	keepaliveWriteWait   = 5 * time.Second
)

// RealtimeConfig configures the turn-based commit backend.
type RealtimeConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Logger   *slog.Logger
}

// RealtimeClient speaks the turn-based commit protocol: audio accumulates
// server-side until an explicit commit requests a generation turn.
type RealtimeClient struct {
	socket
	cfg RealtimeConfig

	// Guarded by socket.mu alongside the connection state.
	uncommittedAudio     bool
	generationInProgress bool
	modelUpdateSent      bool
	readyFallback        *time.Timer
}

var _ Client = (*RealtimeClient)(nil)

// NewRealtimeClient builds a disconnected client.
func NewRealtimeClient(cfg RealtimeConfig) *RealtimeClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := &RealtimeClient{cfg: cfg}
	client.init(logger)
	return client
}

// Connect dials the backend and arms the handshake machinery: a keepalive
// ping loop and a session-ready fallback timer. Some backends never send the
// session-created acknowledgment, so if the fallback fires first the client
// proceeds as if the acknowledgment had arrived, exactly once.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	endpoint, err := wsEndpointURL(c.cfg.Endpoint)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	generation, err := c.dial(ctx, endpoint, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.uncommittedAudio = false
	c.generationInProgress = false
	c.modelUpdateSent = false
	c.readyFallback = time.AfterFunc(sessionReadyFallback, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != generation || c.state != StateConnected || c.ready {
			return
		}
		c.logger.Warn("realtime: no session acknowledgment, proceeding without it")
		c.sendModelUpdateLocked()
		c.markReadyLocked()
	})
	c.mu.Unlock()

	go c.readLoop(generation, conn, func(_ int, payload []byte) {
		c.handleMessage(payload)
	})
	go c.keepalive(generation)

	c.logger.Info("realtime: connected", "endpoint", endpoint, "model", c.cfg.Model)
	return nil
}

// Disconnect tears the session down immediately. Queued messages are dropped.
func (c *RealtimeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReadyFallbackLocked()
	c.teardownLocked(nil, true)
}

// DisconnectAfterFinalCommitIfNeeded disconnects immediately when nothing is
// outstanding; otherwise it sends one final commit and disconnects once that
// write has completed, success or failure.
func (c *RealtimeClient) DisconnectAfterFinalCommitIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReadyFallbackLocked()
	if c.state != StateConnected {
		c.teardownLocked(nil, true)
		return
	}
	if !c.uncommittedAudio && !c.generationInProgress {
		c.teardownLocked(nil, true)
		return
	}
	c.logger.Debug("realtime: flushing final commit before disconnect")
	c.writeLocked(textJSON(commitMessage{Type: "input_audio_buffer.commit", Final: true}))
	c.uncommittedAudio = false
	c.teardownLocked(nil, true)
}

// SendAudioChunk forwards PCM as a base64 append frame and marks the session
// as holding uncommitted audio.
func (c *RealtimeClient) SendAudioChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	frame := appendMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.uncommittedAudio = true
	c.queueOrSendLocked(textJSON(frame))
}

// SendCommit requests a generation turn. Periodic commits are guarded: they
// are no-ops without uncommitted audio or while a generation is already in
// progress. A final commit fires whenever anything is outstanding.
func (c *RealtimeClient) SendCommit(final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	if final {
		if !c.uncommittedAudio && !c.generationInProgress {
			return
		}
		c.uncommittedAudio = false
		c.queueOrSendLocked(textJSON(commitMessage{Type: "input_audio_buffer.commit", Final: true}))
		return
	}
	if !c.uncommittedAudio || c.generationInProgress {
		return
	}
	c.uncommittedAudio = false
	c.generationInProgress = true
	c.queueOrSendLocked(textJSON(commitMessage{Type: "input_audio_buffer.commit"}))
}

// SupportsPeriodicCommit reports that this backend takes explicit commits.
func (c *RealtimeClient) SupportsPeriodicCommit() bool {
	return true
}

// keepalive pings the socket every keepaliveInterval until the connection
// generation moves on.
func (c *RealtimeClient) keepalive(generation int) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.generation != generation || c.state != StateConnected || c.conn == nil {
			c.mu.Unlock()
			return
		}
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keepaliveWriteWait))
		if err != nil {
			c.teardownLocked(err, false)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

// handleMessage dispatches one inbound frame. The transcript field matcher
// tolerates the delta/text/transcript dialect drift seen across backends.
func (c *RealtimeClient) handleMessage(payload []byte) {
	var msg realtimeServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Debug("realtime: unparseable frame", "error", err)
		return
	}

	switch {
	case msg.Type == "session.created", msg.Type == "session.updated":
		c.mu.Lock()
		if !c.ready && c.state == StateConnected {
			c.stopReadyFallbackLocked()
			c.sendModelUpdateLocked()
			c.markReadyLocked()
			c.emit(Event{Kind: EventStatus, Text: "session ready"})
		}
		c.mu.Unlock()

	case strings.HasSuffix(msg.Type, ".delta"):
		if text := msg.transcriptText(); text != "" {
			c.emit(Event{Kind: EventPartial, Text: text})
		}

	case strings.HasSuffix(msg.Type, ".done"), strings.HasSuffix(msg.Type, ".completed"):
		c.mu.Lock()
		c.generationInProgress = false
		c.mu.Unlock()
		if text := msg.transcriptText(); text != "" {
			c.emit(Event{Kind: EventFinal, Text: text})
		}

	case msg.Type == "error":
		c.emit(Event{Kind: EventError, Text: msg.errorText()})

	default:
		c.logger.Debug("realtime: ignoring frame", "type", msg.Type)
	}
}

// sendModelUpdateLocked sends the one model-selection update of the
// handshake. Safe to call from both the acknowledgment path and the
// fallback path; only the first call writes.
func (c *RealtimeClient) sendModelUpdateLocked() {
	if c.modelUpdateSent || c.cfg.Model == "" {
		return
	}
	c.modelUpdateSent = true
	c.writeLocked(textJSON(sessionUpdateMessage{Type: "session.update", Model: c.cfg.Model}))
}

func (c *RealtimeClient) stopReadyFallbackLocked() {
	if c.readyFallback != nil {
		c.readyFallback.Stop()
		c.readyFallback = nil
	}
}

type appendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type commitMessage struct {
	Type  string `json:"type"`
	Final bool   `json:"final,omitempty"`
}

type sessionUpdateMessage struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type realtimeServerMessage struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Message    string `json:"message"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (m realtimeServerMessage) transcriptText() string {
	return firstNonEmpty(m.Delta, m.Text, m.Transcript)
}

func (m realtimeServerMessage) errorText() string {
	return firstNonEmpty(m.Error.Message, m.Message, "backend error")
}

// textJSON marshals a frame for the text channel. Marshal failures cannot
// happen for these fixed message shapes.
func textJSON(v any) outbound {
	payload, _ := json.Marshal(v)
	return outbound{messageType: websocket.TextMessage, payload: payload}
}
