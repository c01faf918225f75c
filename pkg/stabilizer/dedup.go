package stabilizer

import "strings"

// segment is one whitespace-or-punctuation unit of a committed text, kept
// separate so a removed phrase can also drop the punctuation that used to
// separate it from the prior occurrence.
type segment struct {
	text       string // original text, e.g. "Hello" or "."
	normalized string
	punctOnly  bool
}

func isPunctOnlySegment(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isASCIIPunct(s[i]) {
			return false
		}
	}
	return s != ""
}

// tokenizeSegments splits text into word and punctuation-only segments,
// e.g. "Hello, world." -> ["Hello", ",", "world", "."].
func tokenizeSegments(text string) []segment {
	var out []segment
	var cur strings.Builder
	flushWord := func() {
		if cur.Len() == 0 {
			return
		}
		w := cur.String()
		out = append(out, segment{text: w, normalized: normalize(w)})
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flushWord()
		case isASCIIPunct(byte(r)) && r < 128:
			flushWord()
			out = append(out, segment{text: string(r), normalized: string(r), punctOnly: true})
		default:
			cur.WriteRune(r)
		}
	}
	flushWord()
	return out
}

// renderSegments rejoins segments into display text: no space before
// punctuation-only segments, single space elsewhere.
func renderSegments(segs []segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 && !s.punctOnly {
			b.WriteByte(' ')
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// removeRepeatedPhrases runs the three dedup passes described by the
// stabilizer spec: consecutive duplicate runs of 1-4 words, non-consecutive
// repeats of at least minLen words, and punctuation-then-recently-seen-word
// artefacts within a 3-word lookback.
func removeRepeatedPhrases(text string, minLen int) string {
	segs := tokenizeSegments(text)
	segs = removeConsecutiveDuplicates(segs)
	segs = removeNonConsecutiveRepeats(segs, minLen)
	segs = removePunctThenRecentWord(segs, 3)
	return strings.Join(strings.Fields(renderSegments(segs)), " ")
}

func wordSegs(segs []segment) []int {
	idx := make([]int, 0, len(segs))
	for i, s := range segs {
		if !s.punctOnly {
			idx = append(idx, i)
		}
	}
	return idx
}

// removeConsecutiveDuplicates collapses immediately back-to-back repeats of
// word-phrases of length 1 to 4 (e.g. "the the" -> "the").
func removeConsecutiveDuplicates(segs []segment) []segment {
	words := wordSegs(segs)
	removed := make(map[int]bool)

	for l := 4; l >= 1; l-- {
		for start := 0; start+2*l <= len(words); start++ {
			if anyRemoved(words[start:start+2*l], removed) {
				continue
			}
			if phraseEqual(segs, words[start:start+l], words[start+l:start+2*l]) {
				markRangeRemoved(segs, words, start+l, start+2*l, removed)
			}
		}
	}
	return dropRemoved(segs, removed)
}

// removeNonConsecutiveRepeats removes later occurrences of a phrase of at
// least minLen words that also occurs earlier in the text, scanning
// longest candidate phrases first so a long genuine repeat isn't partially
// shadowed by a shorter false match.
func removeNonConsecutiveRepeats(segs []segment, minLen int) []segment {
	if minLen < 1 {
		minLen = 1
	}
	words := wordSegs(segs)
	removed := make(map[int]bool)

	maxLen := len(words) / 2
	for l := maxLen; l >= minLen; l-- {
		seen := map[string]int{} // normalized phrase -> first start index (in words[])
		for start := 0; start+l <= len(words); start++ {
			widx := words[start : start+l]
			if anyRemoved(widx, removed) {
				continue
			}
			key := phraseKey(segs, widx)
			if first, ok := seen[key]; ok {
				if !overlaps(words[first:first+l], widx) {
					markRangeRemoved(segs, words, start, start+l, removed)
				}
				continue
			}
			seen[key] = start
		}
	}
	return dropRemoved(segs, removed)
}

// removePunctThenRecentWord removes a "punctuation then word" pair when
// that word (normalized) already appeared among the lookback words
// immediately preceding the punctuation.
func removePunctThenRecentWord(segs []segment, lookback int) []segment {
	removed := make(map[int]bool)
	words := wordSegs(segs)

	for i := 0; i < len(segs); i++ {
		if !segs[i].punctOnly {
			continue
		}
		// find the next word segment after this punctuation
		nextWord := -1
		for j := i + 1; j < len(segs); j++ {
			if removed[j] {
				continue
			}
			if !segs[j].punctOnly {
				nextWord = j
			}
			break
		}
		if nextWord == -1 {
			continue
		}
		// find position of i within words ordering: collect the lookback
		// words strictly before i.
		var before []int
		for _, wi := range words {
			if wi >= i {
				break
			}
			before = append(before, wi)
		}
		start := 0
		if len(before) > lookback {
			start = len(before) - lookback
		}
		recent := before[start:]
		for _, ri := range recent {
			if removed[ri] {
				continue
			}
			if segs[ri].normalized == segs[nextWord].normalized && segs[nextWord].normalized != "" {
				removed[nextWord] = true
				removed[i] = true
				break
			}
		}
	}
	return dropRemoved(segs, removed)
}

func phraseEqual(segs []segment, a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if segs[a[i]].normalized != segs[b[i]].normalized {
			return false
		}
	}
	return true
}

func phraseKey(segs []segment, idx []int) string {
	parts := make([]string, len(idx))
	for i, wi := range idx {
		parts[i] = segs[wi].normalized
	}
	return strings.Join(parts, " ")
}

func anyRemoved(idx []int, removed map[int]bool) bool {
	for _, i := range idx {
		if removed[i] {
			return true
		}
	}
	return false
}

func overlaps(a, b []int) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	aLo, aHi := a[0], a[len(a)-1]
	bLo, bHi := b[0], b[len(b)-1]
	return aLo <= bHi && bLo <= aHi
}

// markRangeRemoved marks the word segments words[from:to] as removed, plus
// any punctuation-only segments immediately preceding words[from] that
// separate it from the prior occurrence.
func markRangeRemoved(segs []segment, words []int, from, to int, removed map[int]bool) {
	for _, wi := range words[from:to] {
		removed[wi] = true
	}
	if from == 0 {
		return
	}
	first := words[from]
	for i := first - 1; i >= 0; i-- {
		if !segs[i].punctOnly {
			break
		}
		removed[i] = true
	}
}

func dropRemoved(segs []segment, removed map[int]bool) []segment {
	out := segs[:0:0]
	for i, s := range segs {
		if removed[i] {
			continue
		}
		out = append(out, s)
	}
	return out
}
