// Package session coordinates dictation lifecycle state, actions, and commit flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ewilde/mutter/internal/fsm"
	"github.com/ewilde/mutter/internal/ipc"
)

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	State         fsm.State
	Transcript    string
	SessionID     string
	Cancelled     bool
	Err           error
	AudioDevice   string
	BytesCaptured int64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Controller orchestrates session state transitions and side effects.
type Controller struct {
	logger     *slog.Logger
	transcribe Transcriber
	commit     Committer

	mu    sync.RWMutex
	state fsm.State

	actions chan action
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(logger *slog.Logger, transcriber Transcriber, committer Committer) *Controller {
	if transcriber == nil {
		transcriber = PlaceholderTranscriber{}
	}
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}

	return &Controller{
		logger:     logger,
		transcribe: transcriber,
		commit:     committer,
		state:      fsm.StateIdle,
		actions:    make(chan action, 1),
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Run executes one owner lifecycle from start to stop/cancel/failure completion.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}

	if err := c.transition(fsm.EventStart); err != nil {
		result.State = c.State()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}

	if err := c.transcribe.Start(ctx); err != nil {
		c.toErrorAndReset()
		result.State = c.State()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}

	select {
	case <-ctx.Done():
		_ = c.transcribe.Cancel(context.Background())
		c.toErrorAndReset()
		result.State = c.State()
		result.Err = ctx.Err()
		result.FinishedAt = time.Now()
		return result
	case a := <-c.actions:
		switch a {
		case actionCancel:
			_ = c.transcribe.Cancel(context.Background())
			_ = c.transition(fsm.EventCancel)
			result.State = c.State()
			result.Cancelled = true
			result.FinishedAt = time.Now()
			return result
		case actionStop:
			if err := c.transition(fsm.EventStop); err != nil {
				c.toErrorAndReset()
				result.State = c.State()
				result.Err = err
				result.FinishedAt = time.Now()
				return result
			}

			stopResult, err := c.transcribe.StopAndTranscribe(ctx)
			result.SessionID = stopResult.SessionID
			result.AudioDevice = stopResult.AudioDevice
			result.BytesCaptured = stopResult.BytesCaptured
			if err != nil {
				c.toErrorAndReset()
				result.State = c.State()
				result.Err = err
				result.FinishedAt = time.Now()
				return result
			}

			if strings.TrimSpace(stopResult.Transcript) == "" {
				c.toErrorAndReset()
				result.State = c.State()
				result.Err = ErrEmptyTranscript
				result.Transcript = stopResult.Transcript
				result.FinishedAt = time.Now()
				return result
			}

			// The remainder may be empty when realtime insertion already
			// delivered everything; the commit step still runs so the
			// output side can settle its finalize bookkeeping.
			if err := c.commit.Commit(ctx, stopResult.Remainder); err != nil {
				c.toErrorAndReset()
				result.State = c.State()
				result.Err = err
				result.Transcript = stopResult.Transcript
				result.FinishedAt = time.Now()
				return result
			}

			if err := c.transition(fsm.EventFinalized); err != nil {
				result.State = c.State()
				result.Err = err
				result.Transcript = stopResult.Transcript
				result.FinishedAt = time.Now()
				return result
			}

			result.State = c.State()
			result.Transcript = stopResult.Transcript
			result.FinishedAt = time.Now()
			return result
		default:
			c.toErrorAndReset()
			result.State = c.State()
			result.Err = fmt.Errorf("unknown action %d", a)
			result.FinishedAt = time.Now()
			return result
		}
	}
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return ipc.Response{OK: true, State: string(c.State()), Message: "status"}
	case "toggle":
		return c.requestStop("toggle")
	case "stop":
		return c.requestStop("stop")
	case "cancel":
		return c.requestCancel()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// NotifyFault requests a stop on behalf of an internal failure such as a
// backend disconnect or a vanished capture device. Safe to call from any
// goroutine; a no-op outside the recording state.
func (c *Controller) NotifyFault(reason string) {
	if c.logger != nil {
		c.logger.Warn("session fault", "reason", reason)
	}
	resp := c.requestStop("fault")
	if !resp.OK && c.logger != nil {
		c.logger.Debug("fault stop not applicable", "state", resp.State, "error", resp.Error)
	}
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	if state == fsm.StateFinalizing {
		return ipc.Response{OK: false, State: string(state), Error: "already finalizing"}
	}
	if state != fsm.StateRecording {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

// requestCancel enqueues a cancel action when state permits it.
func (c *Controller) requestCancel() ipc.Response {
	state := c.State()
	if state == fsm.StateFinalizing {
		return ipc.Response{OK: false, State: string(state), Error: "cannot cancel while finalizing"}
	}
	if state != fsm.StateRecording {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel from state %s", state)}
	}

	select {
	case c.actions <- actionCancel:
		return ipc.Response{OK: true, State: string(state), Message: "cancel requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "cancel already requested"}
	}
}

// toErrorAndReset transitions to error and back to idle best-effort.
func (c *Controller) toErrorAndReset() {
	_ = c.transition(fsm.EventFail)
	_ = c.transition(fsm.EventReset)
}

// IsPipelineUnavailable reports whether an error represents missing pipeline wiring.
func IsPipelineUnavailable(err error) bool {
	return errors.Is(err, ErrPipelineUnavailable)
}
