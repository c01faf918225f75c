// Package accumulator implements the monotonic per-recording audio buffer
// handed to each window decode, and the sentence-boundary-aware trim
// policy that bounds its growth.
package accumulator

import (
	"strings"
	"sync"
)

// Accumulator is the unbounded-but-trimmed buffer of all audio samples
// recorded since the last trim.
type Accumulator struct {
	mu sync.Mutex

	samples    []float32
	trimOffset int
	sampleRate int
}

// New creates an empty Accumulator at the given sample rate.
func New(sampleRate int) *Accumulator {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Accumulator{sampleRate: sampleRate}
}

// Append adds samples to the full recording buffer.
func (a *Accumulator) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, samples...)
}

// FullAudio returns a copy of every sample recorded since start_recording.
func (a *Accumulator) FullAudio() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float32, len(a.samples))
	copy(out, a.samples)
	return out
}

// AccumulatedWindow returns a copy of the samples from trim_offset to the
// end — the audio handed to the next window decode.
func (a *Accumulator) AccumulatedWindow() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float32, len(a.samples)-a.trimOffset)
	copy(out, a.samples[a.trimOffset:])
	return out
}

// AccumulatedDurationMs returns the duration, in milliseconds, of
// AccumulatedWindow.
func (a *Accumulator) AccumulatedDurationMs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.samples) - a.trimOffset
	return int64(n) * 1000 / int64(a.sampleRate)
}

// AccumulatedStartAbsMs returns the absolute-time position of trim_offset,
// measured from the start of the recording.
func (a *Accumulator) AccumulatedStartAbsMs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(a.trimOffset) * 1000 / int64(a.sampleRate)
}

// AccumulatedEndAbsMs returns the absolute-time position of the most
// recently appended sample.
func (a *Accumulator) AccumulatedEndAbsMs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.samples)) * 1000 / int64(a.sampleRate)
}

// TotalSamplesRecorded returns the count of every sample ever appended.
func (a *Accumulator) TotalSamplesRecorded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// TrimOffset returns the current trim offset in samples.
func (a *Accumulator) TrimOffset() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trimOffset
}

// Reset clears all recorded audio and the trim offset.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = nil
	a.trimOffset = 0
}

// TrimResult describes the outcome of a trim attempt.
type TrimResult struct {
	Trimmed       bool
	NewTrimOffset int
	WordIndex     int
}

// TrimAtSentenceBoundary implements the accumulate-and-trim policy: find
// the first sentence-terminating word within the first half of
// committedText's word list; if none exists, force-trim at 40% of the word
// list. The trim always keeps at least 50% of audio duration by word
// proportion.
func (a *Accumulator) TrimAtSentenceBoundary(committedText string) TrimResult {
	words := strings.Fields(committedText)
	if len(words) == 0 {
		return TrimResult{}
	}

	// wordIndex is reported 1-based (the count of words up to and
	// including the trim boundary), matching the "trim at word index N"
	// convention the trim scenario is specified against.
	wordIndex := -1
	half := len(words) / 2
	for i := 0; i < half && i < len(words); i++ {
		if endsSentence(words[i]) {
			wordIndex = i + 1
			break
		}
	}

	var fraction float64
	if wordIndex == -1 {
		fraction = 0.4
		wordIndex = int(fraction * float64(len(words)))
	} else {
		fraction = float64(wordIndex+1) / float64(len(words))
		if fraction > 0.5 {
			fraction = 0.5
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	total := len(a.samples)
	newOffset := a.trimOffset + int(fraction*float64(total-a.trimOffset)+0.5)
	if newOffset > total {
		newOffset = total
	}
	if newOffset < a.trimOffset {
		newOffset = a.trimOffset
	}
	a.trimOffset = newOffset

	return TrimResult{Trimmed: true, NewTrimOffset: newOffset, WordIndex: wordIndex}
}

func endsSentence(word string) bool {
	if word == "" {
		return false
	}
	last := word[len(word)-1]
	return last == '.' || last == '!' || last == '?'
}
