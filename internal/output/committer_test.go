package output

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ewilde/mutter/internal/overlay"
)

type stubInserter struct {
	texts []string
	ok    bool
}

func (s *stubInserter) InsertText(_ context.Context, text string) bool {
	s.texts = append(s.texts, text)
	return s.ok
}

func TestCommitterInsertsBlockAndResetsOverlay(t *testing.T) {
	machine := overlay.NewMachine(nil)
	machine.Begin("")
	machine.Append("hello world")

	inserter := &stubInserter{ok: true}
	committer := NewCommitter(inserter, machine, nil)

	require.NoError(t, committer.Commit(context.Background(), "hello world"))
	require.Equal(t, []string{"hello world"}, inserter.texts)
	require.Equal(t, overlay.PhaseIdle, machine.Phase())
}

func TestCommitterEmptyRemainderStillSettlesOverlay(t *testing.T) {
	machine := overlay.NewMachine(nil)
	machine.Begin("")

	inserter := &stubInserter{ok: true}
	committer := NewCommitter(inserter, machine, nil)

	require.NoError(t, committer.Commit(context.Background(), "   "))
	require.Empty(t, inserter.texts)
	require.Equal(t, overlay.PhaseIdle, machine.Phase())
}

func TestCommitterFailureRetainsOverlayBuffer(t *testing.T) {
	machine := overlay.NewMachine(nil)
	machine.Begin("")
	machine.Append("kept text")

	inserter := &stubInserter{ok: false}
	committer := NewCommitter(inserter, machine, nil)

	err := committer.Commit(context.Background(), "kept text")
	require.ErrorIs(t, err, ErrInsertionFailed)
	require.Equal(t, overlay.PhaseCommitFailed, machine.Phase())

	snapshot, ok := machine.Snapshot()
	require.True(t, ok)
	require.Equal(t, "kept text", snapshot.Text)
	require.ErrorIs(t, snapshot.Err, ErrInsertionFailed)
}

func TestCommitterWithoutOverlayMachine(t *testing.T) {
	inserter := &stubInserter{ok: true}
	committer := NewCommitter(inserter, nil, nil)

	require.NoError(t, committer.Commit(context.Background(), "plain"))
	require.Equal(t, []string{"plain"}, inserter.texts)
}
