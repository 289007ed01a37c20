// Package transcript merges incremental ASR hypotheses into stable committed text.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// longIncomingThreshold marks incoming fragments large enough that full
	// containment in the existing text is treated as a backend replay.
	longIncomingThreshold = 32

	// wordReplayMinTokens gates the word-level replay detector to texts with
	// enough tokens on both sides to make a word-run match meaningful.
	wordReplayMinTokens = 8

	// prefixCoverageRatio is the fraction of the incoming text that a common
	// prefix must cover before partial-prefix replay handling applies.
	prefixCoverageRatio = 0.8
)

// MergeResult is the outcome of one tail-overlap append.
type MergeResult struct {
	Merged        string
	AppendedDelta string
}

// LongestSuffixPrefixOverlap returns the largest k such that the last k bytes
// of a equal the first k bytes of b. Longest overlap wins.
func LongestSuffixPrefixOverlap(a string, b string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	for k := limit; k >= 1; k-- {
		if a[len(a)-k:] == b[:k] {
			return k
		}
	}
	return 0
}

// AppendWithTailOverlap merges incoming text onto existing text without
// duplicating overlapping content. Rules apply in priority order: replay
// detection first, then character-level tail overlap, then word-level
// fallbacks, then a plain append with a single space boundary when needed.
func AppendWithTailOverlap(existing string, incoming string) MergeResult {
	if incoming == "" {
		return MergeResult{Merged: existing}
	}
	if existing == "" {
		return MergeResult{Merged: incoming, AppendedDelta: incoming}
	}
	if strings.HasSuffix(existing, incoming) {
		return MergeResult{Merged: existing}
	}
	if len(incoming) >= longIncomingThreshold && strings.Contains(existing, incoming) {
		return MergeResult{Merged: existing}
	}

	if k := LongestSuffixPrefixOverlap(existing, incoming); k > 0 {
		delta := incoming[k:]
		return MergeResult{Merged: existing + delta, AppendedDelta: delta}
	}

	if len(incoming) >= longIncomingThreshold {
		if result, ok := mergeByCoveredPrefix(existing, incoming); ok {
			return result
		}
		if result, ok := mergeByWordRunReplay(existing, incoming); ok {
			return result
		}
	}

	delta := incoming
	if needsSpaceBoundary(existing, incoming) {
		delta = " " + incoming
	}
	return MergeResult{Merged: existing + delta, AppendedDelta: delta}
}

// mergeByCoveredPrefix handles long incoming text whose leading portion is a
// high-coverage common prefix of the existing text: full coverage is a replay,
// partial coverage appends only what lies past the last stable word boundary.
func mergeByCoveredPrefix(existing string, incoming string) (MergeResult, bool) {
	common := commonPrefixLength(existing, incoming)
	if float64(common) < prefixCoverageRatio*float64(len(incoming)) {
		return MergeResult{}, false
	}
	if common == len(incoming) {
		return MergeResult{Merged: existing}, true
	}

	boundary := StableWordBoundaryLength(incoming, common)
	delta := incoming[boundary:]
	if delta == "" {
		return MergeResult{Merged: existing}, true
	}
	return MergeResult{Merged: existing + delta, AppendedDelta: delta}, true
}

// mergeByWordRunReplay finds the longest trailing run of whole words in the
// existing text that reoccurs as a leading run of the incoming text, and
// appends only the words that follow it.
func mergeByWordRunReplay(existing string, incoming string) (MergeResult, bool) {
	existingWords := strings.Fields(existing)
	incomingWords := strings.Fields(incoming)
	if len(existingWords) < wordReplayMinTokens || len(incomingWords) < wordReplayMinTokens {
		return MergeResult{}, false
	}

	limit := len(existingWords)
	if len(incomingWords) < limit {
		limit = len(incomingWords)
	}
	for run := limit; run >= 1; run-- {
		if !wordRunsEqual(existingWords[len(existingWords)-run:], incomingWords[:run]) {
			continue
		}
		remainder := strings.Join(incomingWords[run:], " ")
		if remainder == "" {
			return MergeResult{Merged: existing}, true
		}
		delta := remainder
		if needsSpaceBoundary(existing, remainder) {
			delta = " " + remainder
		}
		return MergeResult{Merged: existing + delta, AppendedDelta: delta}, true
	}
	return MergeResult{}, false
}

func wordRunsEqual(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StableWordBoundaryLength snaps a raw prefix length down to the nearest
// preceding word or punctuation boundary so mid-token prefixes are never
// treated as stable.
func StableWordBoundaryLength(text string, upTo int) int {
	if upTo >= len(text) {
		return len(text)
	}
	if upTo <= 0 {
		return 0
	}

	next, _ := utf8.DecodeRuneInString(text[upTo:])
	prev, _ := utf8.DecodeLastRuneInString(text[:upTo])
	if !isWordRune(next) || !isWordRune(prev) {
		return upTo
	}

	boundary := upTo
	for boundary > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:boundary])
		if !isWordRune(r) {
			break
		}
		boundary -= size
	}
	return boundary
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// commonPrefixLength counts shared leading bytes without splitting a rune.
func commonPrefixLength(a string, b string) int {
	limit := len(a)
	if len(b) < limit {
		limit = len(b)
	}
	n := 0
	for n < limit && a[n] == b[n] {
		n++
	}
	// Back off a partially matched multi-byte rune.
	for n > 0 && n < len(a) && !utf8.RuneStart(a[n]) {
		n--
	}
	return n
}

// needsSpaceBoundary reports whether a single space must be inserted between
// existing and incoming text. Leading punctuation that conventionally attaches
// to the previous word suppresses the space.
func needsSpaceBoundary(existing string, incoming string) bool {
	last, _ := utf8.DecodeLastRuneInString(existing)
	if unicode.IsSpace(last) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(incoming)
	if unicode.IsSpace(first) {
		return false
	}
	return !strings.ContainsRune(".,!?;:)]}\"'%-", first)
}
