// Package health supervises a live audio capture by polling, not by event
// subscription. Device-change notifications are unreliable across hardware,
// so the monitor re-checks capture liveness on a coarse timer and treats
// notifications only as hints to evaluate sooner.
package health

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/ewilde/mutter/internal/audio"
)

const (
	coarsePollInterval = 600 * time.Millisecond
	recentAudioWindow  = time.Second

	evalDebounce     = 350 * time.Millisecond
	evalDebounceFast = 120 * time.Millisecond
	// Window after a configuration-change hint during which device-list
	// hints also use the fast debounce, to recover quickly from route flips.
	fastHintWindow = 2 * time.Second

	startupGraceBuiltIn  = 1200 * time.Millisecond
	startupGraceExternal = 3500 * time.Millisecond

	interruptionConfirmDelay = 900 * time.Millisecond
	maxRestartAttempts       = 3
)

// Pipeline is the capture surface the monitor supervises.
type Pipeline interface {
	Device() audio.Device
	HasRecentCapturedAudio(within time.Duration) bool
	HasCapturedAudioInCurrentRun() bool
	ResumeIfNeeded() bool
	RefreshInputTapIfNeeded() error
}

// Config wires the monitor to its collaborators. ListDevices, Restart, and
// the callbacks must all be set; Now defaults to time.Now.
type Config struct {
	Pipeline    Pipeline
	ListDevices func(context.Context) ([]audio.Device, error)

	// Restart performs a full capture restart on the previously selected
	// device. Called at most maxRestartAttempts times per incident.
	Restart func(context.Context) error

	// OnDeviceUnavailable fires once when the selected device vanished
	// from the device list. The caller is expected to stop dictation.
	OnDeviceUnavailable func(reason string)

	// OnPersistentNoAudio fires once when the recovery ladder is exhausted
	// and capture is still silent.
	OnPersistentNoAudio func()

	Logger *slog.Logger
	Now    func() time.Time
}

// outcome labels one evaluation pass.
type outcome int

const (
	outcomeHealthy outcome = iota
	outcomeDeviceGone
	outcomeRecovering
	outcomeWaiting
	outcomeExhausted
)

// Monitor runs the recovery ladder for one dictation session's capture.
// Failures during device hot-swap are usually transient, so the ladder
// escalates gradually and every escalation step is capped.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	debounced     func(func())
	debouncedFast func(func())

	mu               sync.Mutex
	graceStart       time.Time
	lastConfigChange time.Time
	tapRefreshed     bool
	resumeIssued     bool
	interruptionAt   time.Time
	restartAttempts  int
	reportedNoAudio  bool
	halted           bool
}

// NewMonitor builds a monitor for one capture run. The grace window starts
// at construction time.
func NewMonitor(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		cfg:           cfg,
		logger:        logger,
		now:           now,
		debounced:     debounce.New(evalDebounce),
		debouncedFast: debounce.New(evalDebounceFast),
		graceStart:    now(),
	}
}

// Run polls capture liveness until ctx is cancelled. It owns the coarse
// loop only; debounced evaluations run on the debounce timer goroutines.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(coarsePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.isHalted() {
				return
			}
			if !m.cfg.Pipeline.HasRecentCapturedAudio(recentAudioWindow) {
				m.evaluate(ctx)
			}
		}
	}
}

// NotifyDeviceListChanged schedules a debounced evaluation. Hints arriving
// shortly after a configuration change use the short debounce.
func (m *Monitor) NotifyDeviceListChanged(ctx context.Context) {
	m.mu.Lock()
	fast := m.now().Sub(m.lastConfigChange) < fastHintWindow
	m.mu.Unlock()

	run := func() { m.evaluate(ctx) }
	if fast {
		m.debouncedFast(run)
		return
	}
	m.debounced(run)
}

// NotifyConfigurationChanged records an engine route change and schedules a
// fast evaluation.
func (m *Monitor) NotifyConfigurationChanged(ctx context.Context) {
	m.mu.Lock()
	m.lastConfigChange = m.now()
	m.mu.Unlock()
	m.debouncedFast(func() { m.evaluate(ctx) })
}

func (m *Monitor) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// evaluate runs one pass of the recovery ladder. Inconclusive passes leave
// state armed for the next poll instead of rescheduling themselves.
func (m *Monitor) evaluate(ctx context.Context) outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return outcomeDeviceGone
	}

	device := m.cfg.Pipeline.Device()

	devices, err := m.cfg.ListDevices(ctx)
	if err != nil {
		m.logger.Warn("health: device enumeration failed", "error", err)
		return outcomeWaiting
	}
	if _, ok := audio.FindDevice(devices, device.ID); !ok {
		m.halted = true
		m.logger.Warn("health: selected input device disappeared", "device", device.ID)
		m.cfg.OnDeviceUnavailable("selected input unavailable")
		return outcomeDeviceGone
	}

	if m.cfg.Pipeline.HasRecentCapturedAudio(recentAudioWindow) {
		m.clearIncidentLocked()
		return outcomeHealthy
	}

	// Recovery ladder. Each rung runs at most once per incident; rungs are
	// ordered cheapest first.
	if !m.tapRefreshed {
		m.tapRefreshed = true
		if err := m.cfg.Pipeline.RefreshInputTapIfNeeded(); err != nil {
			m.logger.Warn("health: tap refresh failed", "error", err)
		} else {
			m.logger.Info("health: refreshed input tap", "device", device.ID)
		}
		return outcomeRecovering
	}

	if !m.resumeIssued {
		m.resumeIssued = true
		if m.cfg.Pipeline.ResumeIfNeeded() {
			m.logger.Info("health: issued capture resume", "device", device.ID)
			return outcomeRecovering
		}
	}

	grace := startupGraceBuiltIn
	if device.External() {
		grace = startupGraceExternal
	}
	if m.now().Sub(m.graceStart) < grace {
		return outcomeWaiting
	}

	if m.interruptionAt.IsZero() {
		m.interruptionAt = m.now()
		m.logger.Warn("health: capture interruption suspected", "device", device.ID)
		return outcomeWaiting
	}
	if m.now().Sub(m.interruptionAt) < interruptionConfirmDelay {
		return outcomeWaiting
	}

	if m.restartAttempts < maxRestartAttempts {
		m.restartAttempts++
		attempt := m.restartAttempts
		m.logger.Warn("health: restarting capture", "device", device.ID, "attempt", attempt)
		if err := m.cfg.Restart(ctx); err != nil {
			m.logger.Warn("health: capture restart failed", "error", err, "attempt", attempt)
			return outcomeRecovering
		}
		// A successful restart re-arms the cheap rungs and the grace
		// window; the attempt counter persists until audio flows.
		m.tapRefreshed = false
		m.resumeIssued = false
		m.interruptionAt = time.Time{}
		m.graceStart = m.now()
		return outcomeRecovering
	}

	if !m.reportedNoAudio {
		m.reportedNoAudio = true
		m.logger.Error("health: no audio after exhausting recovery ladder", "device", device.ID)
		m.cfg.OnPersistentNoAudio()
	}
	return outcomeExhausted
}

// clearIncidentLocked resets all interruption and backoff state once audio
// is flowing again.
func (m *Monitor) clearIncidentLocked() {
	m.tapRefreshed = false
	m.resumeIssued = false
	m.interruptionAt = time.Time{}
	m.restartAttempts = 0
	m.reportedNoAudio = false
}
