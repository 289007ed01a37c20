// Package overlay tracks buffered transcript text that is committed as one
// unit instead of being streamed into the focused field.
package overlay

import (
	"log/slog"
	"sync"
)

// Phase is the overlay buffer lifecycle phase.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseBuffering    Phase = "buffering"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCommitFailed Phase = "commit_failed"
)

// Snapshot is a render-ready view of the overlay buffer. A snapshot exists
// only while the machine is in a non-idle phase, and always carries the
// anchor that was set when buffering began.
type Snapshot struct {
	Phase  Phase
	Text   string
	Anchor string
	Err    error
}

// Machine is the overlay buffer state machine. Operations invalid for the
// current phase are logged no-ops: they indicate benign re-entrancy from
// overlapping events, not corruption. The machine is safe for concurrent
// use; the event pump appends while the finalize path changes phase.
type Machine struct {
	logger *slog.Logger

	mu     sync.Mutex
	phase  Phase
	text   string
	anchor string
	err    error
}

// NewMachine constructs an idle overlay machine.
func NewMachine(logger *slog.Logger) *Machine {
	return &Machine{logger: logger, phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Begin starts buffering against an anchor point. Valid only from idle.
func (m *Machine) Begin(anchor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseIdle {
		m.logInvalid("begin")
		return
	}
	m.phase = PhaseBuffering
	m.anchor = anchor
	m.text = ""
	m.err = nil
}

// Append adds newly stabilized text to the buffer while buffering or
// finalizing.
func (m *Machine) Append(delta string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseBuffering && m.phase != PhaseFinalizing {
		m.logInvalid("append")
		return
	}
	m.text += delta
}

// BeginFinalize marks the buffer as finalizing. Finalizing may fall back to
// buffering when further text arrives before commit.
func (m *Machine) BeginFinalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseBuffering && m.phase != PhaseFinalizing {
		m.logInvalid("begin_finalize")
		return
	}
	m.phase = PhaseFinalizing
}

// ResumeBuffering returns a finalizing buffer to buffering.
func (m *Machine) ResumeBuffering() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFinalizing {
		m.logInvalid("resume_buffering")
		return
	}
	m.phase = PhaseBuffering
}

// CommitSucceeded completes a finalizing commit and fully resets the machine.
func (m *Machine) CommitSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFinalizing {
		m.logInvalid("commit_succeeded")
		return
	}
	m.reset()
}

// CommitFailed records a failed commit attempt. Buffer text and anchor are
// retained for retry or inspection.
func (m *Machine) CommitFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseBuffering && m.phase != PhaseFinalizing {
		m.logInvalid("commit_failed")
		return
	}
	m.phase = PhaseCommitFailed
	m.err = err
}

// Reset forces the machine back to idle from any phase.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Snapshot returns the current buffer view. ok is false while idle.
func (m *Machine) Snapshot() (snapshot Snapshot, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseIdle {
		return Snapshot{}, false
	}
	return Snapshot{
		Phase:  m.phase,
		Text:   m.text,
		Anchor: m.anchor,
		Err:    m.err,
	}, true
}

func (m *Machine) reset() {
	m.phase = PhaseIdle
	m.text = ""
	m.anchor = ""
	m.err = nil
}

func (m *Machine) logInvalid(op string) {
	if m.logger == nil {
		return
	}
	m.logger.Debug("overlay operation ignored for current phase", "op", op, "phase", string(m.phase))
}
