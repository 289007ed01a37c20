package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// ChunkSizeBytes is 20ms of 16kHz mono s16 PCM, the unit every
	// downstream consumer works in.
	ChunkSizeBytes = 640

	deviceSettleTimeout = 800 * time.Millisecond
	deviceSettlePoll    = 50 * time.Millisecond
)

var (
	// ErrDeviceUnavailable means the preferred device no longer resolves to
	// a live, selectable input source.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrDeviceActivationFailed means the preferred device exists but did
	// not settle into a usable state within the activation timeout.
	ErrDeviceActivationFailed = errors.New("audio: input device activation failed")
)

// CaptureConfig describes one capture run.
type CaptureConfig struct {
	// DeviceID selects a specific input source; empty means system default.
	DeviceID string

	// OnChunk receives converted 16kHz mono s16 PCM, invoked off the
	// Pulse callback goroutine.
	OnChunk func([]byte)

	// OnError receives non-fatal conversion errors. The offending buffer
	// is dropped and capture continues.
	OnError func(error)

	// KeepPCM retains a copy of all converted PCM for debug dumps.
	KeepPCM bool

	Logger *slog.Logger
}

// Capture is one open microphone tap bound to a chosen input device.
type Capture struct {
	cfg    CaptureConfig
	logger *slog.Logger

	client *pulse.Client
	device Device

	mu        sync.Mutex
	stream    *pulse.RecordStream
	format    Format
	converter *Converter
	pending   []byte
	rawPCM    []byte
	stopped   bool

	chunks chan []byte
	stopCh chan struct{}

	inflight  sync.WaitGroup
	forwarder sync.WaitGroup

	bytes           atomic.Int64
	lastAudioNanos  atomic.Int64
	capturedThisRun atomic.Bool
}

// StartCapture resolves the configured input device and opens a record
// stream against it. The stream is taken from the device directly, so the
// system-wide default input is never modified. When a preferred device is
// configured, StartCapture polls briefly for it to appear live before
// giving up with ErrDeviceUnavailable or ErrDeviceActivationFailed.
func StartCapture(ctx context.Context, cfg CaptureConfig) (*Capture, error) {
	if cfg.OnChunk == nil {
		return nil, errors.New("audio: capture requires an OnChunk callback")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	device, err := settleDevice(ctx, client, cfg.DeviceID)
	if err != nil {
		client.Close()
		return nil, err
	}

	capture := &Capture{
		cfg:    cfg,
		logger: logger,
		client: client,
		device: device,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	if err := capture.openTap(); err != nil {
		client.Close()
		return nil, err
	}

	capture.forwarder.Add(1)
	go capture.forward()

	go func() {
		<-ctx.Done()
		_ = capture.Stop()
	}()

	logger.Info("capture started",
		"device", device.ID,
		"format", capture.format.String(),
	)
	return capture, nil
}

// settleDevice resolves the capture target, polling for a preferred device
// to become live within the activation window.
func settleDevice(ctx context.Context, client *pulse.Client, deviceID string) (Device, error) {
	if deviceID == "" {
		defaultSource, err := client.DefaultSource()
		if err != nil {
			return Device{}, fmt.Errorf("read default source: %w", err)
		}
		devices, err := listInputDevices(client)
		if err != nil {
			return Device{}, err
		}
		device, ok := FindDevice(devices, defaultSource.ID())
		if !ok {
			return Device{}, fmt.Errorf("%w: default source %q is not a selectable input", ErrDeviceUnavailable, defaultSource.ID())
		}
		return device, nil
	}

	deadline := time.Now().Add(deviceSettleTimeout)
	seen := false
	for {
		devices, err := listInputDevices(client)
		if err != nil {
			return Device{}, err
		}
		device, ok := FindDevice(devices, deviceID)
		if ok {
			seen = true
			if device.Alive {
				return device, nil
			}
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return Device{}, ctx.Err()
		case <-time.After(deviceSettlePoll):
		}
	}
	if seen {
		return Device{}, fmt.Errorf("%w: device %q did not settle within %s", ErrDeviceActivationFailed, deviceID, deviceSettleTimeout)
	}
	return Device{}, fmt.Errorf("%w: device %q not found", ErrDeviceUnavailable, deviceID)
}

// openTap creates and starts the record stream for the resolved device.
// Callers hold no lock; openTap is only invoked from StartCapture and from
// RefreshInputTapIfNeeded under c.mu.
func (c *Capture) openTap() error {
	source, err := c.client.SourceByID(c.device.ID)
	if err != nil {
		return fmt.Errorf("%w: resolve source %q: %v", ErrDeviceUnavailable, c.device.ID, err)
	}

	format := Format{
		SampleRate: c.device.SampleRate,
		Channels:   c.device.Channels,
		Float:      true,
	}
	if format.SampleRate <= 0 {
		format.SampleRate = OutputSampleRate
	}
	channelOpt := pulse.RecordMono
	if format.Channels >= 2 {
		format.Channels = 2
		channelOpt = pulse.RecordStereo
	} else {
		format.Channels = 1
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatFloat32LE)
	stream, err := c.client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channelOpt,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordMediaName("mutter dictation"),
	)
	if err != nil {
		return fmt.Errorf("create record stream: %w", err)
	}

	c.stream = stream
	c.format = format
	stream.Start()
	return nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// BytesCaptured reports total converted bytes produced this run.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// RawPCM returns a snapshot of retained PCM. Empty unless KeepPCM was set.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.rawPCM))
	copy(out, c.rawPCM)
	return out
}

// HasRecentCapturedAudio reports whether any audio arrived within the
// given window. Used by the health monitor as its liveness probe.
func (c *Capture) HasRecentCapturedAudio(within time.Duration) bool {
	nanos := c.lastAudioNanos.Load()
	if nanos == 0 {
		return false
	}
	return time.Since(time.Unix(0, nanos)) <= within
}

// HasCapturedAudioInCurrentRun reports whether any audio at all arrived
// since this capture started.
func (c *Capture) HasCapturedAudioInCurrentRun() bool {
	return c.capturedThisRun.Load()
}

// ResumeIfNeeded restarts a stalled record stream without reinstalling the
// tap. Returns whether a resume was issued.
func (c *Capture) ResumeIfNeeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.stream == nil {
		return false
	}
	c.stream.Start()
	c.logger.Debug("capture resume issued", "device", c.device.ID)
	return true
}

// RefreshInputTapIfNeeded tears down and reinstalls the record stream on
// the existing client, picking up a changed device route. The converter is
// rebuilt lazily on the next buffer if the negotiated format moved.
func (c *Capture) RefreshInputTapIfNeeded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
		c.stream = nil
	}
	if err := c.openTap(); err != nil {
		return fmt.Errorf("refresh input tap: %w", err)
	}
	c.logger.Debug("capture tap refreshed", "device", c.device.ID, "format", c.format.String())
	return nil
}

// Stop halts the stream and releases the Pulse connection. Idempotent. The
// tap is removed before the client closes so no callback can outlive the
// connection.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		chunk := make([]byte, len(pending))
		copy(chunk, pending)
		select {
		case c.chunks <- chunk:
		default:
		}
	}

	close(c.chunks)
	c.forwarder.Wait()

	c.lastAudioNanos.Store(0)
	c.capturedThisRun.Store(false)
	return nil
}

// forward drains the chunk channel into the OnChunk callback so callback
// work never runs on the Pulse goroutine.
func (c *Capture) forward() {
	defer c.forwarder.Done()
	for chunk := range c.chunks {
		c.cfg.OnChunk(chunk)
	}
}

// onPCM receives raw Pulse buffers, converts them to the output format, and
// emits fixed-size chunks. Conversion failures drop the buffer and report
// through OnError; the stream keeps running.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	if c.converter == nil || !c.converter.InputFormat().Equal(c.format) {
		converter, err := NewConverter(c.format)
		if err != nil {
			c.mu.Unlock()
			c.inflight.Done()
			c.reportConversionError(fmt.Errorf("rebuild converter for %s: %w", c.format.String(), err))
			return len(buffer), nil
		}
		c.converter = converter
	}

	converted, err := c.converter.Convert(buffer)
	if err != nil {
		c.mu.Unlock()
		c.inflight.Done()
		c.reportConversionError(fmt.Errorf("convert %d byte buffer: %w", len(buffer), err))
		return len(buffer), nil
	}

	if c.cfg.KeepPCM {
		c.rawPCM = append(c.rawPCM, converted...)
	}
	c.pending = append(c.pending, converted...)

	chunks := make([][]byte, 0, len(c.pending)/ChunkSizeBytes)
	for len(c.pending) >= ChunkSizeBytes {
		chunk := make([]byte, ChunkSizeBytes)
		copy(chunk, c.pending[:ChunkSizeBytes])
		c.pending = c.pending[ChunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(converted)))
	c.lastAudioNanos.Store(time.Now().UnixNano())
	c.capturedThisRun.Store(true)

	for _, chunk := range chunks {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- chunk:
		}
	}

	return len(buffer), nil
}

func (c *Capture) reportConversionError(err error) {
	c.logger.Warn("capture conversion error", "error", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
