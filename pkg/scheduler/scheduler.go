// Package scheduler implements the periodic tick loop that drives window
// decoding: read the latest audio, gate on silence and minimum duration,
// enforce single-flight backpressure, and fold results into the
// transcript stabilizer.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/streamcore/pkg/accumulator"
	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/pipelineerr"
	"github.com/streamcore/streamcore/pkg/ringbuffer"
	"github.com/streamcore/streamcore/pkg/silence"
	"github.com/streamcore/streamcore/pkg/stabilizer"
)

// stallTimeout is the wall-clock bound past which an in-flight decode is
// considered stalled; its result is dropped but the in-flight flag is
// still cleared.
const stallTimeout = 4000 * time.Millisecond

// rmsHistoryCap bounds the waveform level ring kept for the UI.
const rmsHistoryCap = 30

// Callbacks are the outbound contracts the scheduler context fires after
// each tick or decode completion.
type Callbacks struct {
	OnCommittedTextChanged   func(text string)
	OnSpeculativeTextChanged func(text string)
	OnAudioLevel             func(rms float64)
}

// Scheduler owns the tick timer and wires one recording's ring buffer,
// accumulator, silence detector, and stabilizer into a running decode loop.
//
// Its internal generation counter exists for one reason: a cancellation
// must be able to discard a decode result that is still in flight on the
// worker context when it arrives. Stop leaves the counter alone so the
// finalization path can still wait for that result.
type Scheduler struct {
	cfg config.PipelineConfig

	ring *ringbuffer.Buffer
	acc  *accumulator.Accumulator
	sil  *silence.Detector
	stab *stabilizer.Stabilizer
	dec  decoder.Decoder

	cb  Callbacks
	log logging.Logger

	mu             sync.Mutex
	timer          *time.Ticker
	stopCh         chan struct{}
	decodeInFlight bool
	needsRedecode  bool
	generation     int64
	rmsHistory     []float64
}

// New constructs a Scheduler. None of the arguments are retained beyond
// this recording; callers build a fresh Scheduler per start_recording.
func New(cfg config.PipelineConfig, ring *ringbuffer.Buffer, acc *accumulator.Accumulator, sil *silence.Detector, stab *stabilizer.Stabilizer, dec decoder.Decoder, cb Callbacks, log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Scheduler{cfg: cfg, ring: ring, acc: acc, sil: sil, stab: stab, dec: dec, cb: cb, log: log}
}

// Start begins firing ticks at cfg.TickMs. Safe to call once per
// Scheduler; call Stop before discarding it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.timer != nil {
		s.mu.Unlock()
		return
	}
	s.timer = time.NewTicker(time.Duration(s.cfg.TickMs) * time.Millisecond)
	s.stopCh = make(chan struct{})
	timer := s.timer
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.loop(timer, stopCh)
}

func (s *Scheduler) loop(timer *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-timer.C:
			s.Tick()
		case <-stopCh:
			return
		}
	}
}

// Stop halts the tick timer. It does not wait for an in-flight decode;
// callers that need that guarantee should poll DecodeInFlight (the
// finalization path does exactly this).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

// Cancel stops the timer and bumps the generation counter so that any
// decode still in flight has its result discarded on arrival.
func (s *Scheduler) Cancel() {
	s.Stop()
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// DecodeInFlight reports whether a decode is currently outstanding.
func (s *Scheduler) DecodeInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeInFlight
}

// RMSHistory returns a copy of the last rmsHistoryCap RMS readings, oldest
// first.
func (s *Scheduler) RMSHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.rmsHistory))
	copy(out, s.rmsHistory)
	return out
}

// Tick runs one iteration of the scheduler's decision tree (§4.5). It is
// exported so tests can drive it directly without waiting on the timer.
func (s *Scheduler) Tick() {
	window := s.ring.GetWindow()
	if len(window.PCM) == 0 {
		return
	}

	silent := s.sil.Update(window.PCM, window.EndAbsMs)
	rms := s.sil.LastRMS()
	s.recordRMS(rms)
	if s.cb.OnAudioLevel != nil {
		s.cb.OnAudioLevel(rms)
	}

	if silent {
		return
	}

	if s.acc.AccumulatedDurationMs() < decoder.MinWindowDurationMs {
		return
	}

	s.mu.Lock()
	if s.decodeInFlight {
		s.needsRedecode = true
		s.mu.Unlock()
		return
	}
	s.decodeInFlight = true
	gen := s.generation
	s.mu.Unlock()

	s.submitDecode(gen)
}

func (s *Scheduler) submitDecode(gen int64) {
	pcm := s.acc.AccumulatedWindow()
	startAbsMs := s.acc.AccumulatedStartAbsMs()
	endAbsMs := s.acc.AccumulatedEndAbsMs()
	prompt := buildPrompt(s.stab.Snapshot().RawCommitted, s.cfg.MaxPromptChars)
	submittedAt := time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stallTimeout)
		defer cancel()

		result, err := s.dec.DecodeWindow(ctx, pcm, startAbsMs, prompt)
		s.completeDecode(gen, endAbsMs, submittedAt, result, err)
	}()
}

func (s *Scheduler) completeDecode(gen int64, endAbsMs int64, submittedAt time.Time, result decoder.Result, err error) {
	s.mu.Lock()
	stale := gen != s.generation
	s.decodeInFlight = false
	needsRedecode := s.needsRedecode
	s.needsRedecode = false
	s.mu.Unlock()

	if stale {
		// cancel_recording ran while this decode was in flight: its
		// result must be discarded, not folded into the stabilizer.
		return
	}

	if elapsed := time.Since(submittedAt); elapsed > stallTimeout {
		stallErr := pipelineerr.New(pipelineerr.KindDecode, pipelineerr.ErrDecodeStalled)
		s.log.Warn("window decode stalled, dropping result", "error", stallErr, "elapsed", elapsed)
		if needsRedecode {
			s.Tick()
		}
		return
	}

	if err != nil {
		s.log.Warn("window decode failed", "error", err)
	} else {
		state := s.stab.Update(result, endAbsMs, int64(s.cfg.CommitMarginMs), s.cfg.MinTokenProbability)
		if s.cb.OnCommittedTextChanged != nil {
			s.cb.OnCommittedTextChanged(state.RawCommitted)
		}
		if s.cb.OnSpeculativeTextChanged != nil {
			s.cb.OnSpeculativeTextChanged(state.RawSpeculative)
		}
		s.runTrimPolicy(state.RawCommitted)
	}

	if needsRedecode {
		s.Tick()
	}
}

// runTrimPolicy implements §4.6: once accumulated audio exceeds
// max_buffer_ms, trim the accumulator at (or near) a sentence boundary and
// tell the stabilizer to start a fresh LA-2 agreement window.
func (s *Scheduler) runTrimPolicy(committedText string) {
	if s.acc.AccumulatedDurationMs() <= int64(s.cfg.MaxBufferMs) {
		return
	}
	result := s.acc.TrimAtSentenceBoundary(committedText)
	if result.Trimmed {
		s.stab.NotifyTrimmed()
	}
}

func (s *Scheduler) recordRMS(rms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rmsHistory = append(s.rmsHistory, rms)
	if over := len(s.rmsHistory) - rmsHistoryCap; over > 0 {
		s.rmsHistory = s.rmsHistory[over:]
	}
}

// buildPrompt truncates committed from the right to at most maxChars,
// preferring a sentence boundary, then a word boundary, then a raw cut.
func buildPrompt(committed string, maxChars int) string {
	if committed == "" || maxChars <= 0 {
		return ""
	}
	if len(committed) <= maxChars {
		return committed
	}

	suffix := committed[len(committed)-maxChars:]

	if idx := strings.Index(suffix, ". "); idx >= 0 {
		return suffix[idx+2:]
	}
	if idx := strings.Index(suffix, " "); idx >= 0 {
		return suffix[idx+1:]
	}
	return suffix
}
