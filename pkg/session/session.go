// Package session owns the per-recording lifecycle: it resets and wires
// together the ring buffer, accumulator, silence detector, stabilizer,
// microphone capture, and tick scheduler for one start_recording /
// stop_recording (or cancel_recording) cycle.
package session

import (
	"sync"

	"github.com/streamcore/streamcore/pkg/accumulator"
	"github.com/streamcore/streamcore/pkg/captureaudio"
	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/logging"
	"github.com/streamcore/streamcore/pkg/ringbuffer"
	"github.com/streamcore/streamcore/pkg/scheduler"
	"github.com/streamcore/streamcore/pkg/silence"
	"github.com/streamcore/streamcore/pkg/stabilizer"
)

// Callbacks forwards the scheduler's outbound contracts plus the one
// recording-lifetime signal the session itself is responsible for
// (on_max_duration_reached).
type Callbacks struct {
	OnCommittedTextChanged   func(text string)
	OnSpeculativeTextChanged func(text string)
	OnAudioLevel             func(rms float64)
	OnMaxDurationReached     func()
}

// Session is a single recording: start_recording constructs one, and
// stop_recording/cancel_recording tear it down. It is not reused across
// recordings — call New again for the next one.
type Session struct {
	cfg config.PipelineConfig
	log logging.Logger

	ring *ringbuffer.Buffer
	acc  *accumulator.Accumulator
	sil  *silence.Detector
	stab *stabilizer.Stabilizer
	sch  *scheduler.Scheduler

	cb Callbacks

	capture        *captureaudio.Capture
	maxDurationOnce sync.Once

	mu        sync.Mutex
	running   bool
	closeOnce sync.Once
}

// New resets and wires all per-recording state and returns a Session ready
// for Start. It does not start audio capture yet.
func New(cfg config.PipelineConfig, dec decoder.Decoder, cb Callbacks, log logging.Logger) *Session {
	if log == nil {
		log = logging.NoOpLogger{}
	}

	capacitySamples := cfg.WindowMs * cfg.SampleRate / 1000
	ring := ringbuffer.New(capacitySamples, cfg.SampleRate)
	acc := accumulator.New(cfg.SampleRate)
	sil := silence.New(cfg.EnergyThreshold, int64(cfg.SilenceMs))
	stab := stabilizer.New(log)

	schedCb := scheduler.Callbacks{
		OnCommittedTextChanged:   cb.OnCommittedTextChanged,
		OnSpeculativeTextChanged: cb.OnSpeculativeTextChanged,
		OnAudioLevel:             cb.OnAudioLevel,
	}
	sch := scheduler.New(cfg, ring, acc, sil, stab, dec, schedCb, log)

	return &Session{cfg: cfg, log: log, cb: cb, ring: ring, acc: acc, sil: sil, stab: stab, sch: sch}
}

// Start begins microphone capture and the tick scheduler. The audio
// callback appends to the ring buffer and accumulator and fires
// on_max_duration_reached once the signal threshold is crossed; it does no
// logging and makes no decoder calls. The accumulator append may allocate
// as its buffer grows.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	signalSamples := maxDurationSignalSamples(s.cfg)

	capt, err := captureaudio.Start(s.cfg.SampleRate, func(samples []float32) {
		s.ring.Append(samples)
		s.acc.Append(samples)
		if int64(s.acc.TotalSamplesRecorded()) >= signalSamples && s.cb.OnMaxDurationReached != nil {
			s.maxDurationOnce.Do(s.cb.OnMaxDurationReached)
		}
	})
	if err != nil {
		return err
	}
	s.capture = capt

	s.sch.Start()
	s.running = true
	return nil
}

// Stop halts capture and the scheduler but leaves all accumulated state
// (committed/speculative text, accumulator contents) intact for the
// finalization path to consume.
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		capture := s.capture
		s.mu.Unlock()

		s.sch.Stop()
		capture.Stop()
	})
}

// Cancel stops capture and the scheduler, discards any in-flight decode
// result, and resets every per-recording component to Empty.
func (s *Session) Cancel() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		capture := s.capture
		s.mu.Unlock()

		s.sch.Cancel()
		capture.Stop()

		s.ring.Reset()
		s.acc.Reset()
		s.sil.Reset()
		s.stab.Reset()
	})
}

// Ring, Accumulator, Stabilizer, and Scheduler expose the session's
// sub-components to the finalization path without re-threading config
// through a second constructor call.
func (s *Session) Ring() *ringbuffer.Buffer       { return s.ring }
func (s *Session) Accumulator() *accumulator.Accumulator { return s.acc }
func (s *Session) Stabilizer() *stabilizer.Stabilizer    { return s.stab }
func (s *Session) Scheduler() *scheduler.Scheduler       { return s.sch }

// SampleRate returns the recording's configured sample rate, for callers
// that need to re-encode the raw accumulator buffer (e.g. as WAV).
func (s *Session) SampleRate() int { return s.cfg.SampleRate }

// maxDurationSignalSamples returns the sample count at which
// on_max_duration_reached fires: max_session_minutes is a soft cap (§6),
// and the signal is documented to fire at half of the configured
// duration, not the full duration.
func maxDurationSignalSamples(cfg config.PipelineConfig) int64 {
	return int64(cfg.MaxSessionMinutes) * 60 * int64(cfg.SampleRate) / 2
}
