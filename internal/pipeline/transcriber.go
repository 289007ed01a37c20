// Package pipeline owns one end-to-end capture -> backend -> transcript
// dictation engine instance.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ewilde/mutter/internal/audio"
	"github.com/ewilde/mutter/internal/config"
	"github.com/ewilde/mutter/internal/health"
	"github.com/ewilde/mutter/internal/output"
	"github.com/ewilde/mutter/internal/overlay"
	"github.com/ewilde/mutter/internal/protocol"
	"github.com/ewilde/mutter/internal/session"
	"github.com/ewilde/mutter/internal/transcript"
)

const (
	sendInterval    = 100 * time.Millisecond
	sendLogInterval = 5 * time.Second

	finalizePollInterval  = 100 * time.Millisecond
	finalizeWaitRealtime  = 7 * time.Second
	finalizeWaitStreaming = 25 * time.Second

	// An idle-but-open socket disconnects early once at least finalizeMinOpen
	// of the wait window has elapsed with no backend activity for
	// finalizeIdleTimeout.
	finalizeMinOpen     = 1500 * time.Millisecond
	finalizeIdleTimeout = 2 * time.Second
)

// CapturePipeline is the audio surface the engine drives. *audio.Capture is
// the production implementation.
type CapturePipeline interface {
	Device() audio.Device
	BytesCaptured() int64
	RawPCM() []byte
	HasRecentCapturedAudio(within time.Duration) bool
	HasCapturedAudioInCurrentRun() bool
	ResumeIfNeeded() bool
	RefreshInputTapIfNeeded() error
	Stop() error
}

// Config wires a Transcriber to its collaborators.
type Config struct {
	Runtime config.Config
	Logger  *slog.Logger

	// Inserter performs streaming text insertion; required when the output
	// mode is realtime.
	Inserter output.TextInserter

	// Overlay tracks buffered text for finalized-mode commits. Optional.
	Overlay *overlay.Machine

	// OnFault is notified when a running session can no longer continue
	// (backend disconnect, selected device vanished). Must not block.
	OnFault func(reason string)

	// Test seams; production wiring leaves these nil.
	NewClient    func() (protocol.Client, error)
	StartCapture func(context.Context, audio.CaptureConfig) (CapturePipeline, error)
	ListDevices  func(context.Context) ([]audio.Device, error)
}

// Transcriber runs one dictation session at a time: microphone capture,
// backend streaming, hypothesis stabilization, and text insertion.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	run *dictationRun
}

// NewTranscriber constructs a dictation engine from runtime config.
func NewTranscriber(cfg Config) *Transcriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewClient == nil {
		runtime := cfg.Runtime
		cfg.NewClient = func() (protocol.Client, error) {
			return newBackendClient(runtime, logger)
		}
	}
	if cfg.StartCapture == nil {
		cfg.StartCapture = func(ctx context.Context, captureCfg audio.CaptureConfig) (CapturePipeline, error) {
			return audio.StartCapture(ctx, captureCfg)
		}
	}
	if cfg.ListDevices == nil {
		cfg.ListDevices = audio.ListInputDevices
	}
	return &Transcriber{cfg: cfg, logger: logger}
}

// newBackendClient builds the protocol client for the configured variant.
func newBackendClient(cfg config.Config, logger *slog.Logger) (protocol.Client, error) {
	switch cfg.Backend.Variant {
	case config.VariantRealtime:
		return protocol.NewRealtimeClient(protocol.RealtimeConfig{
			Endpoint: cfg.Backend.Endpoint,
			APIKey:   cfg.Backend.APIKey,
			Model:    cfg.Backend.Model,
			Logger:   logger,
		}), nil
	case config.VariantStreaming:
		return protocol.NewStreamingClient(protocol.StreamingConfig{
			Endpoint:           cfg.Backend.Endpoint,
			Model:              cfg.Backend.Model,
			TranscriptionDelay: cfg.Backend.TranscriptionDelay(),
			Logger:             logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend variant %q", cfg.Backend.Variant)
	}
}

// Start connects the backend, opens the microphone tap, and launches the
// session loops. One session at a time.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run != nil {
		return fmt.Errorf("dictation already running")
	}

	client, err := t.cfg.NewClient()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &dictationRun{
		id:           uuid.NewString(),
		runtime:      t.cfg.Runtime,
		client:       client,
		buffer:       &audio.ChunkBuffer{},
		overlay:      t.cfg.Overlay,
		onFault:      t.cfg.OnFault,
		startCapture: t.cfg.StartCapture,
		ctx:          runCtx,
		cancel:       cancel,
	}
	run.logger = t.logger.With("session_id", run.id)

	run.mode = transcript.InsertFinalized
	if t.cfg.Runtime.Output.Mode == config.OutputRealtime {
		run.mode = transcript.InsertRealtime
		run.queue = output.NewRealtimeQueue(t.cfg.Inserter, run.isAccepting, run.logger)
	}
	run.stab = transcript.NewStabilizer(func(delta string) {
		if run.queue != nil {
			run.queue.Enqueue(delta)
		}
	})

	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("connect backend: %w", err)
	}

	run.captureCfg = audio.CaptureConfig{
		DeviceID: t.cfg.Runtime.Audio.InputDeviceID(),
		OnChunk:  run.buffer.Append,
		OnError: func(err error) {
			run.logger.Warn("audio conversion error", "error", err)
		},
		KeepPCM: t.cfg.Runtime.Debug.AudioDump,
		Logger:  run.logger,
	}
	capture, err := t.cfg.StartCapture(runCtx, run.captureCfg)
	if err != nil {
		client.Disconnect()
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}
	run.capture = capture

	if run.overlay != nil {
		run.overlay.Begin("")
	}

	run.monitor = health.NewMonitor(health.Config{
		Pipeline:    run,
		ListDevices: t.cfg.ListDevices,
		Restart:     run.restartCapture,
		OnDeviceUnavailable: func(reason string) {
			run.fault(reason)
		},
		OnPersistentNoAudio: func() {
			run.logger.Warn("no audio captured after recovery attempts; check microphone")
		},
		Logger: run.logger,
	})

	run.accepting.Store(true)
	run.touchActivity()

	run.wg.Add(2)
	go run.sendLoop()
	go run.eventLoop()
	if client.SupportsPeriodicCommit() {
		run.wg.Add(1)
		go run.commitLoop()
	}
	if run.queue != nil {
		run.wg.Add(1)
		go func() {
			defer run.wg.Done()
			run.queue.Run(run.ctx)
		}()
	}
	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		run.monitor.Run(run.ctx)
	}()

	t.run = run
	run.logger.Info("dictation started",
		"variant", t.cfg.Runtime.Backend.Variant,
		"device", capture.Device().ID)
	return nil
}

// StopAndTranscribe finalizes the active session and assembles the transcript.
func (t *Transcriber) StopAndTranscribe(ctx context.Context) (session.StopResult, error) {
	t.mu.Lock()
	run := t.run
	t.run = nil
	t.mu.Unlock()

	if run == nil {
		return session.StopResult{}, session.ErrPipelineUnavailable
	}
	return run.finish(ctx, false)
}

// Cancel tears the active session down immediately, discarding transcript
// state. A no-op when nothing is running.
func (t *Transcriber) Cancel(ctx context.Context) error {
	t.mu.Lock()
	run := t.run
	t.run = nil
	t.mu.Unlock()

	if run == nil {
		return nil
	}
	_, err := run.finish(ctx, true)
	return err
}

// NotifyDeviceListChanged forwards a device-change hint to the active
// session's health monitor.
func (t *Transcriber) NotifyDeviceListChanged(ctx context.Context) {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()
	if run != nil {
		run.monitor.NotifyDeviceListChanged(ctx)
	}
}

// dictationRun is the per-session state: one backend client, one capture
// tap, one stabilizer, and the loops that connect them.
type dictationRun struct {
	id      string
	logger  *slog.Logger
	runtime config.Config

	client  protocol.Client
	buffer  *audio.ChunkBuffer
	stab    *transcript.Stabilizer
	queue   *output.RealtimeQueue
	overlay *overlay.Machine
	monitor *health.Monitor
	mode    transcript.InsertionMode
	onFault func(reason string)

	startCapture func(context.Context, audio.CaptureConfig) (CapturePipeline, error)
	captureCfg   audio.CaptureConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	capMu   sync.Mutex
	capture CapturePipeline

	accepting         atomic.Bool
	faulted           atomic.Bool
	lastActivityNanos atomic.Int64
	lastFinalNanos    atomic.Int64

	finishOnce sync.Once
	result     session.StopResult
	finishErr  error
}

func (r *dictationRun) isAccepting() bool {
	return r.accepting.Load()
}

func (r *dictationRun) touchActivity() {
	r.lastActivityNanos.Store(time.Now().UnixNano())
}

// fault reports an unrecoverable session failure exactly once.
func (r *dictationRun) fault(reason string) {
	if !r.faulted.CompareAndSwap(false, true) {
		return
	}
	r.logger.Warn("dictation fault", "reason", reason)
	if r.onFault != nil {
		go r.onFault(reason)
	}
}

// sendLoop drains buffered audio to the backend every tick. Skips silently
// when nothing accumulated; logs throughput only periodically.
func (r *dictationRun) sendLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	var sentBytes int
	lastLog := time.Now()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !r.isAccepting() {
				return
			}
			chunk := r.buffer.TakeAll()
			if len(chunk) == 0 {
				continue
			}
			r.client.SendAudioChunk(chunk)
			sentBytes += len(chunk)
			if time.Since(lastLog) >= sendLogInterval {
				r.logger.Debug("audio forwarded", "bytes", sentBytes)
				lastLog = time.Now()
			}
		}
	}
}

// commitLoop requests a non-final commit at the configured interval.
func (r *dictationRun) commitLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.runtime.Backend.CommitInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if !r.isAccepting() {
				return
			}
			if !r.client.SupportsPeriodicCommit() {
				return
			}
			r.client.SendCommit(false)
		}
	}
}

// eventLoop folds backend events into the stabilizer.
func (r *dictationRun) eventLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.client.Events():
			r.touchActivity()
			switch ev.Kind {
			case protocol.EventPartial:
				r.commitHypothesis(ev.Text, false)
			case protocol.EventFinal:
				r.commitHypothesis(ev.Text, true)
				r.lastFinalNanos.Store(time.Now().UnixNano())
			case protocol.EventStatus:
				r.logger.Debug("backend status", "status", ev.Text)
			case protocol.EventError:
				r.logger.Warn("backend error", "error", ev.Text)
			case protocol.EventDisconnected:
				if r.isAccepting() {
					r.fault("backend disconnected")
				}
			case protocol.EventConnected:
				r.logger.Debug("backend connected")
			}
		}
	}
}

func (r *dictationRun) commitHypothesis(text string, final bool) {
	result := r.stab.CommitHypothesis(text, final, r.mode)
	if result.NewlyCommitted != "" && r.overlay != nil {
		r.overlay.Append(result.NewlyCommitted)
	}
	if final {
		r.stab.ResetSegment()
	}
}

// finish runs the stop sequence exactly once; concurrent stop and cancel
// share the same outcome.
func (r *dictationRun) finish(ctx context.Context, discard bool) (session.StopResult, error) {
	r.finishOnce.Do(func() {
		r.result, r.finishErr = r.doFinish(ctx, discard)
	})
	return r.result, r.finishErr
}

func (r *dictationRun) doFinish(ctx context.Context, discard bool) (session.StopResult, error) {
	stoppedAt := time.Now()
	r.accepting.Store(false)
	r.touchActivity()
	if r.overlay != nil && !discard {
		r.overlay.BeginFinalize()
	}

	capture := r.currentCapture()
	device := capture.Device()
	if err := capture.Stop(); err != nil {
		r.logger.Warn("stop capture", "error", err)
	}

	if discard {
		r.buffer.Clear()
		r.client.Disconnect()
	} else {
		if tail := r.buffer.TakeAll(); len(tail) > 0 {
			r.client.SendAudioChunk(tail)
		}
		r.sendSilenceTail()
		r.client.SendCommit(true)

		if r.awaitFinalOrDisconnect(ctx, stoppedAt) {
			r.client.DisconnectAfterFinalCommitIfNeeded()
		} else {
			r.client.Disconnect()
		}
	}

	r.cancel()
	r.wg.Wait()

	result := session.StopResult{
		SessionID:     r.id,
		AudioDevice:   describeDevice(device),
		BytesCaptured: capture.BytesCaptured(),
	}

	writeDebugAudio(r.logger, r.runtime.Debug.AudioDump, capture.RawPCM())

	if discard {
		if r.overlay != nil {
			r.overlay.Reset()
		}
		r.stab.Reset()
		r.logger.Info("dictation cancelled", "bytes_captured", result.BytesCaptured)
		return result, nil
	}

	committed, promoted := r.stab.PromotePendingText()

	if r.queue != nil {
		// Realtime sessions type the promoted tail through the same queue
		// path as live deltas; nothing is left for the commit step.
		if promoted != "" {
			r.queue.Enqueue(promoted)
			promoted = ""
		}
		r.queue.Flush(ctx)
	}

	result.Transcript = transcript.NormalizeFormatting(committed)
	result.Remainder = promoted
	if strings.TrimSpace(result.Transcript) == "" && r.overlay != nil {
		r.overlay.Reset()
	}

	r.logger.Info("dictation finished",
		"transcript_chars", len(result.Transcript),
		"bytes_captured", result.BytesCaptured)
	return result, nil
}

// awaitFinalOrDisconnect blocks until a final transcript arrives, the socket
// disconnects, the backend goes idle after a minimum open window, or the
// variant-specific deadline passes. Reports whether a final arrived.
func (r *dictationRun) awaitFinalOrDisconnect(ctx context.Context, stoppedAt time.Time) bool {
	maxWait := finalizeWaitRealtime
	if r.runtime.Backend.Variant == config.VariantStreaming {
		maxWait = finalizeWaitStreaming
	}

	ticker := time.NewTicker(finalizePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if r.lastFinalNanos.Load() >= stoppedAt.UnixNano() {
				return true
			}
			if r.client.State() == protocol.StateDisconnected {
				return false
			}
			elapsed := time.Since(stoppedAt)
			if elapsed >= maxWait {
				r.logger.Warn("finalize wait timed out", "elapsed", elapsed)
				return false
			}
			idle := time.Since(time.Unix(0, r.lastActivityNanos.Load()))
			if elapsed >= finalizeMinOpen && idle >= finalizeIdleTimeout {
				r.logger.Debug("backend idle after stop, disconnecting early")
				return false
			}
		}
	}
}

// sendSilenceTail streams trailing zero-PCM so the streaming backend has
// enough context to finalize its last segment.
func (r *dictationRun) sendSilenceTail() {
	if r.runtime.Backend.Variant != config.VariantStreaming {
		return
	}
	tail := r.runtime.Audio.SilenceTail()
	chunkDur := r.runtime.Audio.SilenceChunk()
	if tail <= 0 || chunkDur <= 0 {
		return
	}

	chunkBytes := int(chunkDur.Seconds() * float64(audio.OutputSampleRate) * 2)
	if chunkBytes <= 0 {
		return
	}
	chunk := make([]byte, chunkBytes)
	for sent := time.Duration(0); sent < tail; sent += chunkDur {
		r.client.SendAudioChunk(chunk)
	}
}

func (r *dictationRun) currentCapture() CapturePipeline {
	r.capMu.Lock()
	defer r.capMu.Unlock()
	return r.capture
}

// restartCapture reopens capture on the previously selected device. Used by
// the health monitor's recovery ladder.
func (r *dictationRun) restartCapture(ctx context.Context) error {
	r.capMu.Lock()
	defer r.capMu.Unlock()

	deviceID := r.capture.Device().ID
	if err := r.capture.Stop(); err != nil {
		r.logger.Debug("stop capture before restart", "error", err)
	}

	captureCfg := r.captureCfg
	captureCfg.DeviceID = deviceID
	capture, err := r.startCapture(ctx, captureCfg)
	if err != nil {
		return fmt.Errorf("restart capture: %w", err)
	}
	r.capture = capture
	return nil
}

// health.Pipeline, delegating to whichever capture is current.

func (r *dictationRun) Device() audio.Device {
	return r.currentCapture().Device()
}

func (r *dictationRun) HasRecentCapturedAudio(within time.Duration) bool {
	return r.currentCapture().HasRecentCapturedAudio(within)
}

func (r *dictationRun) HasCapturedAudioInCurrentRun() bool {
	return r.currentCapture().HasCapturedAudioInCurrentRun()
}

func (r *dictationRun) ResumeIfNeeded() bool {
	return r.currentCapture().ResumeIfNeeded()
}

func (r *dictationRun) RefreshInputTapIfNeeded() error {
	return r.currentCapture().RefreshInputTapIfNeeded()
}

// describeDevice formats device metadata for logs/session results.
func describeDevice(device audio.Device) string {
	name := strings.TrimSpace(device.Name)
	id := strings.TrimSpace(device.ID)
	if name == "" {
		return id
	}
	if id == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, id)
}
