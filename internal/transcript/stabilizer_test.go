package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStabilizerCommitsWordBoundaryStablePrefix(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)

	result := s.CommitHypothesis("he", false, InsertNone)
	require.Empty(t, result.Committed)
	require.Equal(t, "he", result.UnstableTail)

	result = s.CommitHypothesis("hello", false, InsertNone)
	require.Empty(t, result.Committed)

	result = s.CommitHypothesis("hello there", false, InsertNone)
	require.Equal(t, "hello", result.Committed)
	require.Equal(t, "hello", result.NewlyCommitted)
	require.Equal(t, " there", result.UnstableTail)

	result = s.CommitHypothesis("hello there.", true, InsertNone)
	require.Equal(t, "hello there.", result.Committed)
	require.Empty(t, result.UnstableTail)
}

func TestStabilizerNeverShrinksCommittedPrefix(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)
	s.CommitHypothesis("one two three", false, InsertNone)
	s.CommitHypothesis("one two three four", false, InsertNone)
	committed := s.CommittedText()

	// A shorter partial must not rewind what is already committed.
	result := s.CommitHypothesis("one two", false, InsertNone)
	require.Equal(t, committed, result.Committed)
}

func TestStabilizerMismatchedFinalRealigns(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)
	s.CommitHypothesis("good even", false, InsertNone)
	s.CommitHypothesis("good even now", false, InsertNone)
	require.Equal(t, "good even", s.CommittedText())

	result := s.CommitHypothesis("good morning", true, InsertNone)
	require.Equal(t, 1, strings.Count(result.Committed, "good morning"))
	require.NotContains(t, result.Committed, "good evenmorning")
	require.NotContains(t, result.Committed, "good eveninggood morning")
}

func TestStabilizerRealtimeDeltasReconstructFinalText(t *testing.T) {
	t.Parallel()

	var inserted []string
	s := NewStabilizer(func(delta string) {
		inserted = append(inserted, delta)
	})

	for _, hyp := range []string{"The", "The qui", "The quick fox"} {
		s.CommitHypothesis(hyp, false, InsertRealtime)
	}
	result := s.CommitHypothesis("The quick fox jumps.", true, InsertRealtime)

	require.Equal(t, "The quick fox jumps.", result.Committed)
	require.Equal(t, "The quick fox jumps.", strings.Join(inserted, ""))
}

func TestStabilizerFinalizedModeDefersInsertion(t *testing.T) {
	t.Parallel()

	realtimeCalled := false
	s := NewStabilizer(func(string) { realtimeCalled = true })

	s.CommitHypothesis("buffered text", false, InsertFinalized)
	s.CommitHypothesis("buffered text here", false, InsertFinalized)
	s.CommitHypothesis("buffered text here.", true, InsertFinalized)

	require.False(t, realtimeCalled)
	require.Equal(t, "buffered text here.", s.ConsumePendingInsertion())
	require.Empty(t, s.ConsumePendingInsertion())
}

func TestStabilizerConsumeCommittedSinceFinal(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)
	s.CommitHypothesis("first part", false, InsertNone)
	s.CommitHypothesis("first part done.", true, InsertNone)

	require.Equal(t, "first part done.", s.ConsumeCommittedSinceFinal())
	require.Empty(t, s.ConsumeCommittedSinceFinal())

	s.ResetSegment()
	s.CommitHypothesis("second bit", false, InsertNone)
	s.CommitHypothesis("second bit too.", true, InsertNone)
	require.Equal(t, " second bit too.", s.ConsumeCommittedSinceFinal())
}

func TestStabilizerPromotePendingText(t *testing.T) {
	t.Parallel()

	var inserted []string
	s := NewStabilizer(func(delta string) {
		inserted = append(inserted, delta)
	})

	s.CommitHypothesis("almost done spea", false, InsertRealtime)
	s.CommitHypothesis("almost done speaking now", false, InsertRealtime)

	committed, promoted := s.PromotePendingText()
	require.Equal(t, "almost done speaking now", committed)
	require.Equal(t, committed, strings.Join(inserted, "")+promoted)
	require.NotEmpty(t, promoted)

	// A second promote has nothing further to report.
	_, again := s.PromotePendingText()
	require.Empty(t, again)
}

func TestStabilizerPromoteWithoutHypothesisIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)
	committed, promoted := s.PromotePendingText()
	require.Empty(t, committed)
	require.Empty(t, promoted)
}

func TestStabilizerResetClearsEventText(t *testing.T) {
	t.Parallel()

	s := NewStabilizer(nil)
	s.CommitHypothesis("lingering text.", true, InsertNone)
	require.NotEmpty(t, s.CommittedText())

	s.Reset()
	require.Empty(t, s.CommittedText())
	require.Empty(t, s.ConsumeCommittedSinceFinal())

	result := s.CommitHypothesis("fresh start.", true, InsertNone)
	require.Equal(t, "fresh start.", result.Committed)
}
