package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamcore/streamcore/pkg/accumulator"
	"github.com/streamcore/streamcore/pkg/config"
	"github.com/streamcore/streamcore/pkg/decoder"
	"github.com/streamcore/streamcore/pkg/ringbuffer"
	"github.com/streamcore/streamcore/pkg/silence"
	"github.com/streamcore/streamcore/pkg/stabilizer"
)

// fakeDecoder is a hand-rolled test double, not a generated mock, matching
// the style of the fakes this codebase's tests use elsewhere.
type fakeDecoder struct {
	mu          sync.Mutex
	calls       int
	concurrent  int32
	maxConc     int32
	blockUntil  chan struct{}
	resultFn    func(prompt string) decoder.Result
}

func (f *fakeDecoder) LoadModel(string, string) error { return nil }
func (f *fakeDecoder) UnloadModel() error              { return nil }

func (f *fakeDecoder) DecodeWindow(ctx context.Context, frames []float32, windowStartAbsMs int64, prompt string) (decoder.Result, error) {
	n := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		cur := atomic.LoadInt32(&f.maxConc)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxConc, cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	block := f.blockUntil
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	fn := f.resultFn
	f.mu.Unlock()
	if fn != nil {
		return fn(prompt), nil
	}
	return decoder.Result{Tokens: []decoder.Token{{Text: "hi", AbsStartMs: 0, AbsEndMs: 100, Probability: 0.9}}}, nil
}

func (f *fakeDecoder) DecodeFull(ctx context.Context, frames []float32) (string, error) {
	return "", nil
}

func fillLoud(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 1.0
		} else {
			out[i] = -1.0
		}
	}
	return out
}

func newTestScheduler(dec decoder.Decoder, cb Callbacks) (*Scheduler, *ringbuffer.Buffer, *accumulator.Accumulator) {
	cfg := config.Default()
	cfg.SampleRate = 1000 // 1 sample = 1ms, easy arithmetic in tests
	ring := ringbuffer.New(cfg.MaxBufferMs, cfg.SampleRate)
	acc := accumulator.New(cfg.SampleRate)
	sil := silence.New(cfg.EnergyThreshold, int64(cfg.SilenceMs))
	stab := stabilizer.New(nil)
	s := New(cfg, ring, acc, sil, stab, dec, cb, nil)
	return s, ring, acc
}

func TestTickSkipsOnSilence(t *testing.T) {
	dec := &fakeDecoder{}
	s, ring, acc := newTestScheduler(dec, Callbacks{})
	silentSamples := make([]float32, 2000)
	ring.Append(silentSamples)
	acc.Append(silentSamples)
	// A first quiet reading only starts the detector's silence timer; start
	// it at 0ms so the tick (window end 2000ms) sees confirmed silence.
	s.sil.Update(silentSamples, 0)

	s.Tick()

	if dec.calls != 0 {
		t.Fatalf("decode calls = %d, want 0 on a silent window", dec.calls)
	}
}

func TestTickSkipsBelowMinimumDuration(t *testing.T) {
	dec := &fakeDecoder{}
	s, ring, acc := newTestScheduler(dec, Callbacks{})
	loud := fillLoud(500) // 500ms @ 1000Hz, below the 1000ms floor
	ring.Append(loud)
	acc.Append(loud)

	s.Tick()

	if dec.calls != 0 {
		t.Fatalf("decode calls = %d, want 0 below the minimum window duration", dec.calls)
	}
}

// S6 — Backpressure: a second tick while a decode is in flight must not
// submit a concurrent decode; it must mark needs_redecode and the
// in-flight decode's completion re-runs the tick exactly once.
func TestBackpressureNeverOverlapsDecodes(t *testing.T) {
	dec := &fakeDecoder{blockUntil: make(chan struct{})}
	s, ring, acc := newTestScheduler(dec, Callbacks{})
	loud := fillLoud(2000)
	ring.Append(loud)
	acc.Append(loud)

	s.Tick() // starts a decode that blocks on dec.blockUntil

	// Tick marks decodeInFlight before it starts the decode goroutine.
	deadline := time.Now().Add(time.Second)
	for !s.DecodeInFlight() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.DecodeInFlight() {
		t.Fatal("expected decode to be in flight")
	}

	s.Tick() // must not start a second concurrent decode
	s.Tick()

	close(dec.blockUntil)

	deadline = time.Now().Add(time.Second)
	for s.DecodeInFlight() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if dec.maxConc > 1 {
		t.Fatalf("max concurrent decodes = %d, want at most 1", dec.maxConc)
	}
}

func TestCancelDiscardsInFlightDecodeResult(t *testing.T) {
	dec := &fakeDecoder{blockUntil: make(chan struct{})}
	var committed []string
	var mu sync.Mutex
	cb := Callbacks{OnCommittedTextChanged: func(text string) {
		mu.Lock()
		committed = append(committed, text)
		mu.Unlock()
	}}
	s, ring, acc := newTestScheduler(dec, cb)
	loud := fillLoud(2000)
	ring.Append(loud)
	acc.Append(loud)

	s.Tick()

	deadline := time.Now().Add(time.Second)
	for !s.DecodeInFlight() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.Cancel()
	close(dec.blockUntil)

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	n := len(committed)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("committed text changed %d times after cancel, want 0 (result should be discarded)", n)
	}
}

// §4.5: a decode that took longer than stallTimeout to return must be
// dropped, not folded into the stabilizer, even though it completed
// without error and without generation mismatch.
func TestStalledDecodeResultIsDroppedNotCommitted(t *testing.T) {
	dec := &fakeDecoder{}
	var committed []string
	cb := Callbacks{OnCommittedTextChanged: func(text string) {
		committed = append(committed, text)
	}}
	s, _, _ := newTestScheduler(dec, cb)

	result := decoder.Result{Tokens: []decoder.Token{{Text: "late", AbsStartMs: 0, AbsEndMs: 100, Probability: 0.9}}}
	submittedAt := time.Now().Add(-(stallTimeout + time.Second))
	s.completeDecode(s.generation, 1000, submittedAt, result, nil)

	if len(committed) != 0 {
		t.Fatalf("committed text changed %d times for a stalled decode, want 0", len(committed))
	}
	if s.DecodeInFlight() {
		t.Fatal("decodeInFlight must still be cleared for a dropped stalled decode")
	}
}

// Testable property 10: the built prompt never exceeds max_prompt_chars
// and is always a suffix of the committed text it was built from.
func TestBuildPromptBoundedAndSuffix(t *testing.T) {
	committed := strings.Repeat("word ", 500) + "end."
	prompt := buildPrompt(committed, 50)

	if len(prompt) > 50 {
		t.Fatalf("prompt length = %d, want <= 50", len(prompt))
	}
	if !strings.HasSuffix(committed, prompt) {
		t.Fatalf("prompt %q is not a suffix of committed text", prompt)
	}
}

func TestBuildPromptEmptyCommittedYieldsEmptyPrompt(t *testing.T) {
	if got := buildPrompt("", 100); got != "" {
		t.Fatalf("prompt = %q, want empty for empty committed text", got)
	}
}

func TestBuildPromptShorterThanMaxReturnsWholeText(t *testing.T) {
	text := "short text."
	if got := buildPrompt(text, 1200); got != text {
		t.Fatalf("prompt = %q, want unchanged %q", got, text)
	}
}
