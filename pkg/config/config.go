// Package config provides the pipeline configuration schema, YAML loader,
// and validation rules for a streaming transcription session.
package config

import (
	"errors"
	"fmt"
)

// PipelineConfig is the snapshot of tunables read once at start_recording.
// The core never watches this for changes mid-session; live reload, if
// wanted, belongs to whatever process constructs a PipelineConfig and calls
// StartRecording with it.
type PipelineConfig struct {
	// SampleRate is fixed: the decoder and every buffer in the pipeline
	// assume 16kHz mono PCM.
	SampleRate int `yaml:"sample_rate"`

	// TickMs is the scheduler's decode-attempt interval, in [150, 500].
	TickMs int `yaml:"tick_ms"`

	// WindowMs is the sliding decode window length, in [4000, 12000].
	WindowMs int `yaml:"window_ms"`

	// CommitMarginMs holds back the trailing edge of a window from
	// commitment, in [400, 1200].
	CommitMarginMs int `yaml:"commit_margin_ms"`

	// SilenceMs is the continuous-silence duration before a tick is
	// skipped, in [500, 2000].
	SilenceMs int `yaml:"silence_ms"`

	// MaxBufferMs is the accumulator's trim threshold (§4.6): once
	// accumulated audio exceeds this, the next successful decode triggers a
	// trim.
	// Must be >= WindowMs, which sizes the ring buffer itself.
	MaxBufferMs int `yaml:"max_buffer_ms"`

	// MaxPromptChars bounds the decode prompt built from committed text,
	// in [0, N].
	MaxPromptChars int `yaml:"max_prompt_chars"`

	// MinTokenProbability drops decoded tokens below this confidence,
	// in [0.0, 1.0]. Ignored for tokens reporting probability == 0.
	MinTokenProbability float64 `yaml:"min_token_probability"`

	// EnergyThreshold is the RMS silence-gate cutoff; must be > 0.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// MaxSessionMinutes is the soft session-length cap, in [1, 60]:
	// on_max_duration_reached fires at half of it. Recording is not
	// stopped when it is reached.
	MaxSessionMinutes int `yaml:"max_session_minutes"`

	// Language is the whisper decode language hint (e.g. "en").
	Language string `yaml:"language"`

	// FilterFillerWords toggles the optional finalize-path filler-word
	// pass.
	FilterFillerWords bool `yaml:"filter_filler_words"`
}

// Default returns the PipelineConfig with every default from the tunables
// table.
func Default() PipelineConfig {
	return PipelineConfig{
		SampleRate:          16000,
		TickMs:              250,
		WindowMs:            8000,
		CommitMarginMs:      700,
		SilenceMs:           900,
		MaxBufferMs:         12000,
		MaxPromptChars:      1200,
		MinTokenProbability: 0.10,
		EnergyThreshold:     0.01,
		MaxSessionMinutes:   30,
		Language:            "en",
		FilterFillerWords:   false,
	}
}

// Validate checks that cfg's fields all sit within their documented ranges
// and returns a joined error listing every violation found.
func Validate(cfg PipelineConfig) error {
	var errs []error

	if cfg.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("sample_rate must be 16000, got %d", cfg.SampleRate))
	}
	if cfg.TickMs < 150 || cfg.TickMs > 500 {
		errs = append(errs, fmt.Errorf("tick_ms %d out of range [150, 500]", cfg.TickMs))
	}
	if cfg.WindowMs < 4000 || cfg.WindowMs > 12000 {
		errs = append(errs, fmt.Errorf("window_ms %d out of range [4000, 12000]", cfg.WindowMs))
	}
	if cfg.CommitMarginMs < 400 || cfg.CommitMarginMs > 1200 {
		errs = append(errs, fmt.Errorf("commit_margin_ms %d out of range [400, 1200]", cfg.CommitMarginMs))
	}
	if cfg.SilenceMs < 500 || cfg.SilenceMs > 2000 {
		errs = append(errs, fmt.Errorf("silence_ms %d out of range [500, 2000]", cfg.SilenceMs))
	}
	if cfg.MaxBufferMs < cfg.WindowMs {
		errs = append(errs, fmt.Errorf("max_buffer_ms %d must be >= window_ms %d", cfg.MaxBufferMs, cfg.WindowMs))
	}
	if cfg.MaxPromptChars < 0 {
		errs = append(errs, fmt.Errorf("max_prompt_chars %d must be >= 0", cfg.MaxPromptChars))
	}
	if cfg.MinTokenProbability < 0.0 || cfg.MinTokenProbability > 1.0 {
		errs = append(errs, fmt.Errorf("min_token_probability %.2f out of range [0.0, 1.0]", cfg.MinTokenProbability))
	}
	if cfg.EnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("energy_threshold %.4f must be > 0", cfg.EnergyThreshold))
	}
	if cfg.MaxSessionMinutes < 1 || cfg.MaxSessionMinutes > 60 {
		errs = append(errs, fmt.Errorf("max_session_minutes %d out of range [1, 60]", cfg.MaxSessionMinutes))
	}

	return errors.Join(errs...)
}
