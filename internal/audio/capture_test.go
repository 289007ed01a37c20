package audio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCapture(format Format) *Capture {
	return &Capture{
		cfg:    CaptureConfig{KeepPCM: true},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		format: format,
		chunks: make(chan []byte, 8),
		stopCh: make(chan struct{}),
	}
}

func TestCaptureOnPCMChunkingAndStopFlushesPending(t *testing.T) {
	capture := newTestCapture(Format{SampleRate: OutputSampleRate, Channels: 1})

	// Zero samples survive conversion byte for byte.
	input := make([]byte, ChunkSizeBytes+110)

	n, err := capture.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), capture.BytesCaptured())
	require.Equal(t, len(input), len(capture.RawPCM()))
	require.True(t, capture.HasCapturedAudioInCurrentRun())
	require.True(t, capture.HasRecentCapturedAudio(time.Second))

	firstChunk := <-capture.chunks
	require.Len(t, firstChunk, ChunkSizeBytes)

	require.NoError(t, capture.Stop())

	remaining, ok := <-capture.chunks
	require.True(t, ok)
	require.Len(t, remaining, 110)

	_, ok = <-capture.chunks
	require.False(t, ok)

	require.False(t, capture.HasCapturedAudioInCurrentRun())
	require.False(t, capture.HasRecentCapturedAudio(time.Second))
}

func TestCaptureOnPCMReturnsEOFWhenStopped(t *testing.T) {
	capture := newTestCapture(Format{SampleRate: OutputSampleRate, Channels: 1})
	require.NoError(t, capture.Stop())

	_, err := capture.onPCM(make([]byte, ChunkSizeBytes))
	require.ErrorIs(t, err, io.EOF)
}

func TestCaptureOnPCMDropsUnconvertibleBuffer(t *testing.T) {
	var reported error
	capture := newTestCapture(Format{SampleRate: OutputSampleRate, Channels: 2})
	capture.cfg.OnError = func(err error) { reported = err }

	// Six bytes is not a whole number of stereo s16 frames.
	n, err := capture.onPCM(make([]byte, 6))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Error(t, reported)
	require.Zero(t, capture.BytesCaptured())
	require.False(t, capture.HasCapturedAudioInCurrentRun())
}

func TestCaptureOnPCMRebuildsConverterOnFormatChange(t *testing.T) {
	capture := newTestCapture(Format{SampleRate: OutputSampleRate, Channels: 1})

	_, err := capture.onPCM(make([]byte, ChunkSizeBytes))
	require.NoError(t, err)
	first := capture.converter
	require.NotNil(t, first)

	capture.format = Format{SampleRate: 48000, Channels: 2, Float: true}
	_, err = capture.onPCM(make([]byte, 48*8))
	require.NoError(t, err)
	require.NotSame(t, first, capture.converter)
	require.Equal(t, capture.format, capture.converter.InputFormat())
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	capture := newTestCapture(Format{SampleRate: OutputSampleRate, Channels: 1})
	require.NoError(t, capture.Stop())
	require.NoError(t, capture.Stop())
	require.False(t, capture.ResumeIfNeeded())
}

func TestStartCaptureRequiresChunkCallback(t *testing.T) {
	_, err := StartCapture(context.Background(), CaptureConfig{})
	require.Error(t, err)
}

func TestStartCaptureFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := StartCapture(context.Background(), CaptureConfig{OnChunk: func([]byte) {}})
	require.Error(t, err)
}
