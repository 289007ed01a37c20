package overlay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineHappyPath(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	require.Equal(t, PhaseIdle, m.Phase())

	m.Begin("window:0x42")
	require.Equal(t, PhaseBuffering, m.Phase())

	m.Append("hello ")
	m.Append("world")
	m.BeginFinalize()
	require.Equal(t, PhaseFinalizing, m.Phase())

	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, "hello world", snapshot.Text)
	require.Equal(t, "window:0x42", snapshot.Anchor)

	m.CommitSucceeded()
	require.Equal(t, PhaseIdle, m.Phase())

	_, ok = m.Snapshot()
	require.False(t, ok)
}

func TestMachineCommitSucceededFromBufferingIsNoop(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	m.Begin("anchor")
	m.Append("kept")

	m.CommitSucceeded()
	require.Equal(t, PhaseBuffering, m.Phase())

	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, "kept", snapshot.Text)
}

func TestMachineCommitFailedRetainsBufferAndAnchor(t *testing.T) {
	t.Parallel()

	commitErr := errors.New("insertion target rejected text")

	m := NewMachine(nil)
	m.Begin("anchor")
	m.Append("buffered")
	m.BeginFinalize()
	m.CommitFailed(commitErr)

	require.Equal(t, PhaseCommitFailed, m.Phase())
	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, "buffered", snapshot.Text)
	require.Equal(t, "anchor", snapshot.Anchor)
	require.ErrorIs(t, snapshot.Err, commitErr)
}

func TestMachineFinalizingResumesBuffering(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	m.Begin("anchor")
	m.BeginFinalize()
	m.ResumeBuffering()
	require.Equal(t, PhaseBuffering, m.Phase())
}

func TestMachineResetFromAnyPhase(t *testing.T) {
	t.Parallel()

	phases := []func(m *Machine){
		func(*Machine) {},
		func(m *Machine) { m.Begin("a") },
		func(m *Machine) { m.Begin("a"); m.BeginFinalize() },
		func(m *Machine) { m.Begin("a"); m.CommitFailed(errors.New("boom")) },
	}

	for _, setup := range phases {
		m := NewMachine(nil)
		setup(m)
		m.Reset()
		require.Equal(t, PhaseIdle, m.Phase())
		_, ok := m.Snapshot()
		require.False(t, ok)
	}
}

func TestMachineBeginWhileActiveIsNoop(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	m.Begin("first")
	m.Append("text")
	m.Begin("second")

	snapshot, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, "first", snapshot.Anchor)
	require.Equal(t, "text", snapshot.Text)
}

func TestMachineAppendWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	m := NewMachine(nil)
	m.Append("ignored")
	_, ok := m.Snapshot()
	require.False(t, ok)
}
