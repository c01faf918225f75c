// Package decoder wraps the external ASR library behind the three
// operations the core needs: load/unload a model, decode a bounded window
// with token-level detail, and decode a full recording for finalization.
package decoder

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Token is a single decoded unit of text with absolute-time bounds and a
// confidence in [0,1]. Times are relative to the window until the adapter
// rebases them to absolute by adding window_start_abs_ms.
type Token struct {
	Text         string
	AbsStartMs   int64
	AbsEndMs     int64
	Probability  float64
}

// Result is an ordered sequence of tokens with absolute times, plus the
// window this decode was submitted against.
type Result struct {
	Tokens           []Token
	WindowStartAbsMs int64
}

// MaxWindowTokens bounds worst-case window-decode time and prevents
// hallucination runaway (spec default ~50).
const MaxWindowTokens = 50

// MinWindowDurationMs is the minimum audio duration accepted by
// DecodeWindow; shorter requests are the scheduler's responsibility to
// reject or pad.
const MinWindowDurationMs = 1000

// Decoder is the adapter contract the scheduler and finalizer depend on.
// Implementations must serialize internally: only one decode may be in
// flight at a time, and a concurrent call must fail explicitly rather than
// deadlock.
type Decoder interface {
	LoadModel(path string, language string) error
	UnloadModel() error

	// DecodeWindow runs a bounded, greedy, single-segment decode over
	// frames starting at windowStartAbsMs, optionally primed with prompt.
	DecodeWindow(ctx context.Context, frames []float32, windowStartAbsMs int64, prompt string) (Result, error)

	// DecodeFull runs a one-shot decode of the entire recording with
	// temperature fallback and no segment bound.
	DecodeFull(ctx context.Context, frames []float32) (string, error)
}

var ErrNotLoaded = errors.New("decoder: model not loaded")
var ErrBusy = errors.New("decoder: a decode is already in flight")

// dotRun matches 2 or more consecutive ASCII dots, a known silence
// hallucination from the underlying model.
var dotRun = regexp.MustCompile(`\.{2,}`)

// Sanitize strips dot-run hallucinations from decoder output text.
func Sanitize(text string) string {
	return dotRun.ReplaceAllString(text, "")
}

// sanitizeTokenText applies Sanitize to a single token's text, keeping its
// surrounding whitespace (the decoder's leading-space convention); a token
// that sanitizes to nothing but whitespace is reported via the returned
// bool so the caller can drop it.
func sanitizeTokenText(s string) (string, bool) {
	cleaned := Sanitize(s)
	if strings.TrimSpace(cleaned) == "" {
		return "", false
	}
	return cleaned, true
}
