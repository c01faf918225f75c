package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/streamcore/streamcore/pkg/logging"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperDecoder implements Decoder using the whisper.cpp CGO bindings
// directly, with no HTTP hop. The model is loaded once; each decode creates
// its own context, since a whisper.cpp context is not safe for concurrent
// use but the model may be shared.
type WhisperDecoder struct {
	log logging.Logger

	mu       sync.Mutex
	model    whisperlib.Model
	language string

	busy      int32
	warmedUp  bool
	warmupLen int
}

// NewWhisperDecoder creates an unloaded decoder. Call LoadModel before use.
func NewWhisperDecoder(log logging.Logger) *WhisperDecoder {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &WhisperDecoder{log: log, warmupLen: 16000 * 12}
}

// LoadModel loads the model file and performs a warm-up decode of a
// zero-filled buffer sized to the maximum expected accumulated window
// (12s @ 16kHz), pre-allocating decoder graph buffers so later decodes
// don't trigger allocator thrash.
func (d *WhisperDecoder) LoadModel(path string, language string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if path == "" {
		return fmt.Errorf("decoder: model path must not be empty")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return fmt.Errorf("decoder: load model %q: %w", path, err)
	}
	if d.model != nil {
		_ = d.model.Close()
	}
	d.model = model
	d.language = language
	if d.language == "" {
		d.language = "en"
	}
	d.warmedUp = false

	wctx, err := d.model.NewContext()
	if err != nil {
		return fmt.Errorf("decoder: warm-up context: %w", err)
	}
	configureWindowContext(wctx, d.language)
	warmup := make([]float32, d.warmupLen)
	if err := wctx.Process(warmup, nil, nil, nil); err != nil {
		d.log.Warn("decoder warm-up decode failed", "error", err)
	} else {
		d.warmedUp = true
	}
	return nil
}

// UnloadModel releases the model.
func (d *WhisperDecoder) UnloadModel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model == nil {
		return nil
	}
	err := d.model.Close()
	d.model = nil
	d.warmedUp = false
	return err
}

func (d *WhisperDecoder) modelSnapshot() (whisperlib.Model, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model == nil {
		return nil, "", ErrNotLoaded
	}
	return d.model, d.language, nil
}

// DecodeWindow runs a bounded, greedy, single-segment decode with
// token-level probabilities. Only one decode may be in flight at a time;
// concurrent callers receive ErrBusy rather than blocking.
func (d *WhisperDecoder) DecodeWindow(ctx context.Context, frames []float32, windowStartAbsMs int64, prompt string) (Result, error) {
	if !atomic.CompareAndSwapInt32(&d.busy, 0, 1) {
		return Result{}, ErrBusy
	}
	defer atomic.StoreInt32(&d.busy, 0)

	model, language, err := d.modelSnapshot()
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("decoder: create context: %w", err)
	}
	configureWindowContext(wctx, language)
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(frames, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("decoder: process window: %w", err)
	}

	var tokens []Token
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("decoder: read segment: %w", err)
		}
		tokens = append(tokens, segmentTokens(segment)...)
		if len(tokens) >= MaxWindowTokens {
			tokens = tokens[:MaxWindowTokens]
			break
		}
	}

	for i := range tokens {
		cleaned, ok := sanitizeTokenText(tokens[i].Text)
		if !ok {
			tokens[i].Text = ""
			continue
		}
		tokens[i].Text = cleaned
		tokens[i].AbsStartMs += windowStartAbsMs
		tokens[i].AbsEndMs += windowStartAbsMs
	}

	filtered := tokens[:0]
	for _, t := range tokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		filtered = append(filtered, t)
	}

	return Result{Tokens: filtered, WindowStartAbsMs: windowStartAbsMs}, nil
}

// DecodeFull runs a one-shot decode of the complete recording with
// temperature fallback and no single-segment bound.
func (d *WhisperDecoder) DecodeFull(ctx context.Context, frames []float32) (string, error) {
	if !atomic.CompareAndSwapInt32(&d.busy, 0, 1) {
		return "", ErrBusy
	}
	defer atomic.StoreInt32(&d.busy, 0)

	model, language, err := d.modelSnapshot()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("decoder: create context: %w", err)
	}
	configureFullContext(wctx, language)

	if err := wctx.Process(frames, nil, nil, nil); err != nil {
		return "", fmt.Errorf("decoder: process full audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decoder: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return Sanitize(strings.Join(parts, " ")), nil
}

// configureWindowContext sets up a context for greedy, bounded,
// single-segment window decoding: no temperature fallback, no beam search.
// single_segment + max_tokens cap worst-case decode time directly instead of
// relying on a post-hoc slice of an already-decoded token list.
func configureWindowContext(wctx whisperlib.Context, language string) {
	if err := wctx.SetLanguage(language); err != nil {
		_ = err // best-effort; fall back to the model's default language
	}
	wctx.SetThreads(4)
	wctx.SetSplitOnWord(true)
	wctx.SetMaxSegmentLength(0)
	wctx.SetTokenTimestamps(true)
	wctx.SetSingleSegment(true)
	wctx.SetMaxTokensPerSegment(uint(MaxWindowTokens))
	wctx.SetBeamSize(0) // greedy: no beam search, bounded worst-case time
	wctx.SetTemperatureFallback(-1.0)
}

// configureFullContext sets up a context for a one-shot finalization
// decode: temperature fallback enabled (0.2 step), no single-segment bound.
func configureFullContext(wctx whisperlib.Context, language string) {
	if err := wctx.SetLanguage(language); err != nil {
		_ = err
	}
	wctx.SetThreads(4)
	wctx.SetSplitOnWord(true)
	wctx.SetTokenTimestamps(true)
	wctx.SetTemperatureFallback(0.2)
}

// segmentTokens extracts per-token detail from a segment when the binding
// exposes it; segments without token-level data yield a single synthetic
// token covering the segment span with probability 1.0.
func segmentTokens(segment whisperlib.Segment) []Token {
	if len(segment.Tokens) == 0 {
		return []Token{{
			Text:        segment.Text,
			AbsStartMs:  segment.Start.Milliseconds(),
			AbsEndMs:    segment.End.Milliseconds(),
			Probability: 1.0,
		}}
	}

	out := make([]Token, 0, len(segment.Tokens))
	for _, tk := range segment.Tokens {
		out = append(out, Token{
			Text:        tk.Text,
			AbsStartMs:  tk.Start.Milliseconds(),
			AbsEndMs:    tk.End.Milliseconds(),
			Probability: float64(tk.P),
		})
	}
	return out
}
