// Package stabilizer implements LocalAgreement-2 transcript stabilization:
// resolving overlapping hypotheses from successive window decodes into one
// monotonically growing committed text plus a short speculative tail.
//
// The Stabilizer is a deterministic, side-effect-free transformer of
// inputs (state + decode result + params -> state'). Logging is the only
// permitted side effect, which keeps it unit-testable without any audio or
// decoder infrastructure.
package stabilizer

import (
	"strings"

	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/logging"
)

// DefaultMinTokenProbability is the hallucination-filter cutoff.
const DefaultMinTokenProbability = 0.10

// jitterToleranceMs is the empirical tolerance on committed_end_abs_ms
// below which a token is treated as already committed and skipped. Tune
// per backend.
const jitterToleranceMs = 30

// speculativeHoldMs is how long a non-additive speculative change is
// suppressed to damp UI flicker.
const speculativeHoldMs = 500

// recentCommittedCap bounds the window kept for text-based overlap
// suppression.
const recentCommittedCap = 80

// streamingDedupMinLen / finalizeDedupMinLen are the two minimum
// non-consecutive repeated-phrase lengths. The split is intentional and
// not unified: streaming is conservative to avoid corrupting long genuine
// repeats in live dictation, finalization is more aggressive.
const (
	streamingDedupMinLen = 7
	finalizeDedupMinLen  = 3
)

// Stabilizer owns all LA-2 state for a single recording.
type Stabilizer struct {
	log logging.Logger

	rawCommitted       string
	rawSpeculative     string
	committedWordCount int
	committedEndAbsMs  int64
	status             Status

	previousNormalized []string
	recentCommitted    []string

	lastSpeculativeUpdateAbsMs int64
	decodeCount                int
}

// New creates an empty Stabilizer.
func New(log logging.Logger) *Stabilizer {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Stabilizer{log: log, status: StatusEmpty}
}

// Snapshot returns the current externally visible state without mutating
// anything.
func (s *Stabilizer) Snapshot() State {
	return State{
		RawCommitted:       s.rawCommitted,
		RawSpeculative:     s.rawSpeculative,
		CommittedWordCount: s.committedWordCount,
		CommittedEndAbsMs:  s.committedEndAbsMs,
		Status:             s.status,
	}
}

// Update folds one decode result into the stabilizer state and returns the
// resulting snapshot.
func (s *Stabilizer) Update(result decoder.Result, windowEndAbsMs int64, commitMarginMs int64, minTokenProbability float64) State {
	s.decodeCount++

	if minTokenProbability <= 0 {
		minTokenProbability = DefaultMinTokenProbability
	}

	tokens := filterLowProbability(result.Tokens, minTokenProbability)
	tokens = trimHallucinationLoop(tokens)

	if len(tokens) == 0 {
		// All-zero / empty decode: committed and speculative text stay as
		// they are (testable property 5); only the LA-2 history is cleared.
		s.previousNormalized = nil
		s.advanceStatus(false)
		return s.Snapshot()
	}

	currentNormalized := normalizedTexts(tokens)

	agreedLen := longestCommonPrefixLen(s.previousNormalized, currentNormalized)
	candidateCount := agreedLen - 1 // one-word trailing hold-back
	if candidateCount < 0 {
		candidateCount = 0
	}
	if candidateCount > len(tokens) {
		candidateCount = len(tokens)
	}

	horizon := windowEndAbsMs - commitMarginMs
	k := candidateCount
	for k > 0 && tokens[k-1].AbsEndMs > horizon {
		k--
	}

	j := 0
	for j < k && tokens[j].AbsEndMs <= s.committedEndAbsMs+jitterToleranceMs {
		j++
	}

	skip := longestSuffixPrefixMatch(s.recentCommitted, currentNormalized[j:k])
	commitStart := j + skip
	if commitStart > k {
		commitStart = k
	}

	committedGrew := false
	if commitStart < k {
		committedGrew = s.commitTokens(tokens[commitStart:k])
	}

	s.updateSpeculative(tokens[k:], windowEndAbsMs, committedGrew)

	s.previousNormalized = currentNormalized
	s.advanceStatus(committedGrew)

	return s.Snapshot()
}

func (s *Stabilizer) commitTokens(tokens []decoder.Token) bool {
	if len(tokens) == 0 {
		return false
	}

	appendText := joinTokenText(tokens)
	if appendText == "" {
		return false
	}

	combined := s.rawCommitted
	if combined != "" && !strings.HasPrefix(appendText, " ") && !strings.HasSuffix(combined, " ") {
		combined += " "
	}
	combined += appendText
	combined = removeRepeatedPhrases(combined, streamingDedupMinLen)

	s.rawCommitted = combined
	s.committedWordCount = countWords(combined)

	last := tokens[len(tokens)-1]
	if last.AbsEndMs > s.committedEndAbsMs {
		s.committedEndAbsMs = last.AbsEndMs
	}

	for _, t := range tokens {
		s.recentCommitted = append(s.recentCommitted, normalize(t.Text))
	}
	if over := len(s.recentCommitted) - recentCommittedCap; over > 0 {
		s.recentCommitted = s.recentCommitted[over:]
	}

	return true
}

func (s *Stabilizer) updateSpeculative(tail []decoder.Token, windowEndAbsMs int64, committedGrew bool) {
	newSpec := joinTokenText(tail)

	accept := committedGrew ||
		s.rawSpeculative == "" ||
		isAdditiveChange(s.rawSpeculative, newSpec) ||
		(windowEndAbsMs-s.lastSpeculativeUpdateAbsMs) >= speculativeHoldMs

	if !accept {
		return
	}
	s.rawSpeculative = newSpec
	s.lastSpeculativeUpdateAbsMs = windowEndAbsMs
}

func (s *Stabilizer) advanceStatus(committedGrew bool) {
	if s.status == StatusFinalized {
		return
	}
	if s.committedWordCount > 0 {
		s.status = StatusGrowing
		return
	}
	if s.decodeCount >= 1 {
		s.status = StatusSpeculativeOnly
	}
}

// FinalizeAll appends any remaining speculative text to committed, runs
// the more aggressive finalization dedup pass, strips a trailing
// incomplete-looking fragment, and normalizes whitespace.
func (s *Stabilizer) FinalizeAll() State {
	combined := s.rawCommitted
	spec := strings.TrimSpace(s.rawSpeculative)
	if spec != "" {
		if combined != "" && !strings.HasPrefix(spec, " ") {
			combined += " "
		}
		combined += spec
	}

	combined = removeRepeatedPhrases(combined, finalizeDedupMinLen)
	combined = stripTrailingIncompleteFragment(combined)
	combined = strings.Join(strings.Fields(combined), " ")

	s.rawCommitted = combined
	s.committedWordCount = countWords(combined)
	s.rawSpeculative = ""
	s.status = StatusFinalized

	return s.Snapshot()
}

// Replace sets raw_committed to text verbatim, clears raw_speculative, and
// marks the stabilizer Finalized. Used when a full-recording decode is
// authoritative and should replace the LA-2-assembled transcript outright.
func (s *Stabilizer) Replace(text string) State {
	s.rawCommitted = text
	s.committedWordCount = countWords(text)
	s.rawSpeculative = ""
	s.status = StatusFinalized
	return s.Snapshot()
}

// NotifyTrimmed clears the previous-decode word history so the next decode
// starts a fresh LA-2 window, but preserves committed/speculative text and
// counters.
func (s *Stabilizer) NotifyTrimmed() {
	s.previousNormalized = nil
}

// Reset returns the stabilizer to its Empty state.
func (s *Stabilizer) Reset() {
	*s = Stabilizer{log: s.log, status: StatusEmpty}
}

func filterLowProbability(tokens []decoder.Token, minProb float64) []decoder.Token {
	out := make([]decoder.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Probability != 0 && t.Probability < minProb {
			continue
		}
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// trimHallucinationLoop finds the longest back-to-back repeated n-gram
// (n>=3, normalized) and truncates everything after its first occurrence.
func trimHallucinationLoop(tokens []decoder.Token) []decoder.Token {
	n := len(tokens)
	if n < 6 {
		return tokens
	}
	norm := normalizedTexts(tokens)

	for length := n / 2; length >= 3; length-- {
		for start := 0; start+2*length <= n; start++ {
			if equalStrSlices(norm[start:start+length], norm[start+length:start+2*length]) {
				return tokens[:start+length]
			}
		}
	}
	return tokens
}

func normalizedTexts(tokens []decoder.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = normalize(t.Text)
	}
	return out
}

func equalStrSlices(a, b []string) bool {
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

func longestCommonPrefixLen(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// longestSuffixPrefixMatch returns the length of the longest suffix of
// recent that matches a prefix of next.
func longestSuffixPrefixMatch(recent, next []string) int {
	maxLen := len(recent)
	if len(next) < maxLen {
		maxLen = len(next)
	}
	for l := maxLen; l > 0; l-- {
		if equalStrSlices(recent[len(recent)-l:], next[:l]) {
			return l
		}
	}
	return 0
}

func joinTokenText(tokens []decoder.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// isAdditiveChange reports whether old and next stand in a prefix
// relationship once normalized to whitespace-separated words, i.e. one is
// a superset/subset of the other rather than a divergent rewrite.
func isAdditiveChange(old, next string) bool {
	oldWords := strings.Fields(strings.ToLower(old))
	nextWords := strings.Fields(strings.ToLower(next))
	shorter, longer := oldWords, nextWords
	if len(longer) < len(shorter) {
		shorter, longer = longer, shorter
	}
	for i, w := range shorter {
		if longer[i] != w {
			return false
		}
	}
	return true
}

// stripTrailingIncompleteFragment drops the final word when it carries no
// sentence-terminating punctuation, per the literal heuristic in the
// finalization spec. Applied only once, at finalize_all.
func stripTrailingIncompleteFragment(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	last := words[len(words)-1]
	if isSentenceTerminator(last) {
		return text
	}
	return strings.Join(words[:len(words)-1], " ")
}
