package session

import (
	"context"
	"testing"

	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
)

type stubDecoder struct{}

func (stubDecoder) LoadModel(string, string) error { return nil }
func (stubDecoder) UnloadModel() error              { return nil }
func (stubDecoder) DecodeWindow(context.Context, []float32, int64, string) (decoder.Result, error) {
	return decoder.Result{}, nil
}
func (stubDecoder) DecodeFull(context.Context, []float32) (string, error) { return "", nil }

func TestNewWiresSubComponents(t *testing.T) {
	s := New(config.Default(), stubDecoder{}, Callbacks{}, nil)
	if s.Ring() == nil || s.Accumulator() == nil || s.Stabilizer() == nil || s.Scheduler() == nil {
		t.Fatal("New should wire every sub-component")
	}
}

func TestCancelWithoutStartDoesNotPanic(t *testing.T) {
	s := New(config.Default(), stubDecoder{}, Callbacks{}, nil)
	s.Cancel()

	if s.Accumulator().TotalSamplesRecorded() != 0 {
		t.Fatal("cancel should leave the accumulator empty")
	}
	st := s.Stabilizer().Snapshot()
	if st.RawCommitted != "" || st.Status != "empty" {
		t.Fatalf("stabilizer after cancel = %+v, want zero Empty state", st)
	}
}

func TestStopWithoutStartDoesNotPanic(t *testing.T) {
	s := New(config.Default(), stubDecoder{}, Callbacks{}, nil)
	s.Stop()
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(config.Default(), stubDecoder{}, Callbacks{}, nil)
	s.Cancel()
	s.Cancel() // must not panic or double-close anything
}

func TestRingBufferCapacitySizedFromWindowMsNotMaxBufferMs(t *testing.T) {
	cfg := config.Default()
	cfg.WindowMs = 4000
	cfg.MaxBufferMs = 12000
	s := New(cfg, stubDecoder{}, Callbacks{}, nil)

	wantSamples := cfg.WindowMs * cfg.SampleRate / 1000
	s.Ring().Append(make([]float32, wantSamples+5000))
	window := s.Ring().GetWindow()
	if len(window.PCM) != wantSamples {
		t.Fatalf("ring buffer held %d samples, want %d (window_ms, not max_buffer_ms)", len(window.PCM), wantSamples)
	}
}

func TestMaxDurationSignalSamplesFiresAtHalfConfiguredDuration(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionMinutes = 10
	cfg.SampleRate = 16000

	full := int64(cfg.MaxSessionMinutes) * 60 * int64(cfg.SampleRate)
	got := maxDurationSignalSamples(cfg)
	if got != full/2 {
		t.Fatalf("signal threshold = %d, want %d (half of the full-duration sample count)", got, full/2)
	}
}
