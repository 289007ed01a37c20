package session

import (
	"context"
	"errors"
)

var (
	// ErrPipelineUnavailable indicates runtime dictation wiring is missing.
	ErrPipelineUnavailable = errors.New("audio capture and transcription pipeline not wired")
	// ErrEmptyTranscript indicates stop completed but no usable speech was recognized.
	ErrEmptyTranscript = errors.New("no speech recognized; check microphone input or mute state")
)

// StopResult is the dictation output consumed by the session controller.
type StopResult struct {
	// Transcript is the full normalized text committed during the session.
	Transcript string
	// Remainder is the suffix of Transcript that has not yet been inserted
	// into the focused application and still needs a commit step.
	Remainder     string
	SessionID     string
	AudioDevice   string
	BytesCaptured int64
}

// Transcriber abstracts the capture/backend dictation engine driven by the
// session controller.
type Transcriber interface {
	Start(context.Context) error
	StopAndTranscribe(context.Context) (StopResult, error)
	Cancel(context.Context) error
}

// PlaceholderTranscriber is a no-op placeholder used in tests/fallback wiring.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Start(context.Context) error {
	return nil
}

func (PlaceholderTranscriber) StopAndTranscribe(context.Context) (StopResult, error) {
	return StopResult{}, ErrPipelineUnavailable
}

func (PlaceholderTranscriber) Cancel(context.Context) error {
	return nil
}
