// Package pipeline is the top-level entry point external callers use:
// start_recording / stop_recording / cancel_recording, wired to a single
// decoder instance and a set of outbound event callbacks.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/finalize"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/pipelineerr"
	"github.com/streamcore/streamcore/pkg/session"
	"github.com/streamcore/streamcore/pkg/wavutil"
)

// Callbacks are the five outbound contracts (§6) a caller may subscribe to,
// plus an optional debug audio snapshot of the just-finished recording.
type Callbacks struct {
	OnCommittedTextChanged   func(text string)
	OnSpeculativeTextChanged func(text string)
	OnAudioLevel             func(rms float64)
	OnFinalText              func(text string)
	OnMaxDurationReached     func()
	// OnFinalAudio, if set, receives a WAV encoding of the full recording
	// alongside on_final_text, for debugging a stabilizer/decoder mismatch
	// against the raw audio it was given.
	OnFinalAudio func(wav []byte)
}

// Pipeline is the single entry point a caller drives with
// start_recording/stop_recording/cancel_recording. fillerWords, when
// non-nil, is applied by the finalization path.
type Pipeline struct {
	dec         decoder.Decoder
	cb          Callbacks
	log         logging.Logger
	fillerWords []string

	mu      sync.Mutex
	current *session.Session
}

// New constructs a Pipeline bound to a single already-loaded Decoder.
func New(dec decoder.Decoder, cb Callbacks, fillerWords []string, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Pipeline{dec: dec, cb: cb, fillerWords: fillerWords, log: log}
}

// StartRecording validates cfg, starts a new recording Session, and
// returns once capture and the tick scheduler are running.
func (p *Pipeline) StartRecording(cfg config.PipelineConfig) error {
	if err := config.Validate(cfg); err != nil {
		return pipelineerr.New(pipelineerr.KindInvariant, fmt.Errorf("invalid pipeline config: %w", err))
	}

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return pipelineerr.New(pipelineerr.KindInvariant, fmt.Errorf("a recording is already in progress"))
	}

	sessCb := session.Callbacks{
		OnCommittedTextChanged:   p.cb.OnCommittedTextChanged,
		OnSpeculativeTextChanged: p.cb.OnSpeculativeTextChanged,
		OnAudioLevel:             p.cb.OnAudioLevel,
		OnMaxDurationReached:     p.cb.OnMaxDurationReached,
	}
	sess := session.New(cfg, p.dec, sessCb, p.log)
	p.current = sess
	p.mu.Unlock()

	if err := sess.Start(); err != nil {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
		return pipelineerr.New(pipelineerr.KindDevice, err)
	}
	return nil
}

// StopRecording runs the finalization path (§4.7) and emits exactly one
// on_final_text callback with the result.
func (p *Pipeline) StopRecording(ctx context.Context) {
	p.mu.Lock()
	sess := p.current
	p.current = nil
	p.mu.Unlock()

	if sess == nil {
		return
	}

	sess.Stop()

	finalText := finalize.Run(ctx, sess.Accumulator(), sess.Stabilizer(), p.dec, sess.Scheduler(), p.fillerWords, p.log)
	if p.cb.OnFinalAudio != nil {
		full := sess.Accumulator().FullAudio()
		p.cb.OnFinalAudio(wavutil.Encode(full, sess.SampleRate()))
	}
	if p.cb.OnFinalText != nil {
		p.cb.OnFinalText(finalText)
	}
}

// CancelRecording discards the current recording without finalizing.
func (p *Pipeline) CancelRecording() {
	p.mu.Lock()
	sess := p.current
	p.current = nil
	p.mu.Unlock()

	if sess == nil {
		return
	}
	sess.Cancel()
}
