package transcript

import "strings"

// InsertionMode selects how newly stabilized text is handed to the caller.
type InsertionMode int

const (
	// InsertNone commits text without triggering any insertion callback.
	InsertNone InsertionMode = iota
	// InsertRealtime streams each newly stabilized delta immediately.
	InsertRealtime
	// InsertFinalized defers insertion until the caller consumes the
	// committed-since-final buffer as one block.
	InsertFinalized
)

// CommitResult reports the outcome of one hypothesis commit pass.
type CommitResult struct {
	// Committed is the full committed text for the current dictation event.
	Committed string
	// NewlyCommitted is the delta this pass stabilized, empty when nothing grew.
	NewlyCommitted string
	// UnstableTail is the hypothesis portion not yet covered by the committed
	// prefix, suitable for live display only.
	UnstableTail string
}

// Stabilizer reduces a backend's evolving hypothesis stream into a
// monotonically growing committed text. One instance serves one dictation
// session; segment state resets after each final transcript.
type Stabilizer struct {
	committedEvent  string
	sinceLastFinal  string
	pendingInsert   string
	lastHypothesis  string
	committedPrefix int

	onRealtime func(delta string)
}

// NewStabilizer constructs a stabilizer. onRealtime receives streaming
// insertion deltas when commits run in InsertRealtime mode; nil disables
// streaming insertion.
func NewStabilizer(onRealtime func(delta string)) *Stabilizer {
	return &Stabilizer{onRealtime: onRealtime}
}

// CommitHypothesis folds one hypothesis into the committed text. For partial
// hypotheses only the word-boundary-stable common prefix with the previous
// hypothesis is committed; a final hypothesis commits in full. A final that
// contradicts the committed prefix realigns via a best-effort diff against the
// previous hypothesis instead of dropping or duplicating text.
func (s *Stabilizer) CommitHypothesis(hypothesis string, isFinal bool, mode InsertionMode) CommitResult {
	if isFinal && s.committedPrefix > 0 && !strings.HasPrefix(hypothesis, s.lastHypothesis[:s.committedPrefix]) {
		return s.commitMismatchedFinal(hypothesis, mode)
	}

	target := len(hypothesis)
	if !isFinal {
		common := commonPrefixLength(hypothesis, s.lastHypothesis)
		target = StableWordBoundaryLength(hypothesis, common)
		if target < s.committedPrefix {
			target = s.committedPrefix
		}
	}

	var newly string
	if target > s.committedPrefix {
		delta := hypothesis[s.committedPrefix:target]
		merged := AppendWithTailOverlap(s.committedEvent, delta)
		s.committedEvent = merged.Merged
		if merged.AppendedDelta != "" {
			s.recordCommittedDelta(merged.AppendedDelta, mode)
		}
		s.committedPrefix = target
		newly = merged.AppendedDelta
	}

	s.lastHypothesis = hypothesis
	if s.committedPrefix > len(hypothesis) {
		s.committedPrefix = len(hypothesis)
	}

	return CommitResult{
		Committed:      s.committedEvent,
		NewlyCommitted: newly,
		UnstableTail:   hypothesis[s.committedPrefix:],
	}
}

// commitMismatchedFinal handles a final hypothesis that does not extend the
// committed prefix: the backend changed its mind on finalization. The stale
// committed contribution is rewound from the event text and the authoritative
// final merged in; the insertion delta is derived by diffing against the
// previous hypothesis (prefix, containment, substring, then tail overlap).
func (s *Stabilizer) commitMismatchedFinal(hypothesis string, mode InsertionMode) CommitResult {
	stale := s.lastHypothesis[:s.committedPrefix]

	prev := s.lastHypothesis
	var delta string
	switch {
	case prev == "":
		delta = hypothesis
	case strings.HasPrefix(hypothesis, prev):
		delta = hypothesis[len(prev):]
	case strings.HasPrefix(prev, hypothesis):
		delta = ""
	case strings.Contains(hypothesis, prev):
		idx := strings.Index(hypothesis, prev)
		delta = hypothesis[idx+len(prev):]
	default:
		k := LongestSuffixPrefixOverlap(prev, hypothesis)
		delta = hypothesis[k:]
	}

	rewound := strings.TrimSuffix(s.committedEvent, stale)
	rewound = strings.TrimSuffix(rewound, " ")
	merged := AppendWithTailOverlap(rewound, hypothesis)
	s.committedEvent = merged.Merged

	if delta != "" {
		s.recordCommittedDelta(delta, mode)
	}

	s.lastHypothesis = hypothesis
	s.committedPrefix = len(hypothesis)

	return CommitResult{
		Committed:      s.committedEvent,
		NewlyCommitted: delta,
	}
}

// recordCommittedDelta books a newly stabilized delta into the since-final
// buffer and dispatches it per insertion mode.
func (s *Stabilizer) recordCommittedDelta(delta string, mode InsertionMode) {
	s.sinceLastFinal += delta
	switch mode {
	case InsertRealtime:
		if s.onRealtime != nil {
			s.onRealtime(delta)
		}
	default:
		s.pendingInsert += delta
	}
}

// PromotePendingText force-commits the last-seen hypothesis as final, for
// sessions that end before a final transcript ever arrives. It returns the
// full committed text and the tail that has not yet been handed to insertion.
func (s *Stabilizer) PromotePendingText() (committed string, promoted string) {
	if s.lastHypothesis != "" {
		s.CommitHypothesis(s.lastHypothesis, true, InsertNone)
	}
	promoted = s.pendingInsert
	s.pendingInsert = ""
	return s.committedEvent, promoted
}

// ConsumeCommittedSinceFinal returns and clears the text committed since the
// previous final marker.
func (s *Stabilizer) ConsumeCommittedSinceFinal() string {
	out := s.sinceLastFinal
	s.sinceLastFinal = ""
	return out
}

// ConsumePendingInsertion returns and clears text committed in deferred modes
// that has not yet been inserted.
func (s *Stabilizer) ConsumePendingInsertion() string {
	out := s.pendingInsert
	s.pendingInsert = ""
	return out
}

// CommittedText returns the full committed text for the current event.
func (s *Stabilizer) CommittedText() string {
	return s.committedEvent
}

// ResetSegment clears per-utterance hypothesis tracking after a final.
func (s *Stabilizer) ResetSegment() {
	s.lastHypothesis = ""
	s.committedPrefix = 0
}

// Reset clears all state, including the cross-utterance committed event text.
func (s *Stabilizer) Reset() {
	s.committedEvent = ""
	s.sinceLastFinal = ""
	s.pendingInsert = ""
	s.ResetSegment()
}
