// Package finalize implements the stop_recording finalization path: wait
// for any in-flight decode to settle, run a full-recording decode as the
// authoritative transcript when available, fall back to the stabilizer's
// own finalize_all otherwise, and optionally strip filler words.
package finalize

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/streamcore/streamcore/pkg/accumulator"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/stabilizer"
)

// pollInterval is the short sleep used while waiting for an in-flight
// decode to settle.
const pollInterval = 20 * time.Millisecond

// pollTimeout bounds the wait so a stuck decode cannot hang stop_recording
// forever; past this the finalizer proceeds anyway, same as a dropped
// stalled decode on the streaming path.
const pollTimeout = 5 * time.Second

// DefaultFillerWords is the built-in filler-word list applied when a
// caller enables filtering without supplying its own.
var DefaultFillerWords = []string{"um", "uh", "umm", "uhh", "er", "erm"}

// InFlightChecker reports whether a decode is currently outstanding; the
// scheduler satisfies this.
type InFlightChecker interface {
	DecodeInFlight() bool
}

// Run executes the finalization path and returns the final transcript.
func Run(ctx context.Context, acc *accumulator.Accumulator, stab *stabilizer.Stabilizer, dec decoder.Decoder, inFlight InFlightChecker, fillerWords []string, log logging.Logger) string {
	if log == nil {
		log = logging.NoOpLogger{}
	}

	waitForInFlightDecode(inFlight)

	full := acc.FullAudio()
	var finalText string

	fullText, err := dec.DecodeFull(ctx, full)
	if err != nil {
		log.Warn("full-recording decode failed, falling back to stabilizer finalize", "error", err)
		finalText = stab.FinalizeAll().RawCommitted
	} else if strings.TrimSpace(fullText) == "" {
		finalText = stab.FinalizeAll().RawCommitted
	} else {
		// decode_full succeeded and produced output: it wins outright over
		// the LA-2-assembled transcript, whatever the stabilizer holds.
		finalText = stab.Replace(decoder.Sanitize(fullText)).RawCommitted
	}

	if fillerWords != nil {
		finalText = FilterFillerWords(finalText, fillerWords)
	}

	return finalText
}

func waitForInFlightDecode(inFlight InFlightChecker) {
	if inFlight == nil {
		return
	}
	deadline := time.Now().Add(pollTimeout)
	for inFlight.DecodeInFlight() && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}
}

// FilterFillerWords removes each word in words from text, case-insensitive
// and on word boundaries, then collapses repeated whitespace.
func FilterFillerWords(text string, words []string) string {
	if len(words) == 0 {
		return text
	}
	for _, w := range words {
		if w == "" {
			continue
		}
		pattern := `(?i)\b` + regexp.QuoteMeta(w) + `\b`
		re := regexp.MustCompile(pattern)
		text = re.ReplaceAllString(text, "")
	}
	return strings.Join(strings.Fields(text), " ")
}
