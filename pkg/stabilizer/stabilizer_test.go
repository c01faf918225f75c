package stabilizer

import (
	"strings"
	"testing"

	"github.com/streamcore/streamcore/pkg/decoder"
)

func tok(text string, startMs, endMs int64, prob float64) decoder.Token {
	return decoder.Token{Text: text, AbsStartMs: startMs, AbsEndMs: endMs, Probability: prob}
}

func mkResult(tokens ...decoder.Token) decoder.Result {
	return decoder.Result{Tokens: tokens}
}

// S1 — First-decode speculative.
func TestS1FirstDecodeSpeculative(t *testing.T) {
	s := New(nil)
	res := mkResult(
		tok("Hello", 0, 200, 0.9),
		tok(" world", 200, 500, 0.9),
	)
	st := s.Update(res, 1000, 300, 0.10)

	if st.RawCommitted != "" {
		t.Fatalf("raw_committed = %q, want empty", st.RawCommitted)
	}
	if !strings.Contains(st.RawSpeculative, "Hello") || !strings.Contains(st.RawSpeculative, "world") {
		t.Fatalf("raw_speculative = %q, want to contain Hello and world", st.RawSpeculative)
	}
}

// S2 — Two-decode LA-2 commit.
func TestS2TwoDecodeCommit(t *testing.T) {
	s := New(nil)
	decodeA := mkResult(
		tok("Hello", 0, 200, 0.9),
		tok(" world", 200, 500, 0.9),
		tok(" this", 500, 800, 0.9),
		tok(" is", 800, 1000, 0.9),
	)
	s.Update(decodeA, 1000, 300, 0.10)

	decodeB := mkResult(
		tok("Hello", 0, 200, 0.9),
		tok(" world", 200, 500, 0.9),
		tok(" this", 500, 800, 0.9),
		tok(" was", 800, 1000, 0.9),
	)
	st := s.Update(decodeB, 1000, 300, 0.10)

	if !strings.Contains(st.RawCommitted, "Hello") || !strings.Contains(st.RawCommitted, "world") {
		t.Fatalf("raw_committed = %q, want to contain Hello and world", st.RawCommitted)
	}
	if strings.Contains(st.RawCommitted, "this") {
		t.Fatalf("raw_committed = %q, should hold back the agreement's last word", st.RawCommitted)
	}
}

// S3 — Hallucination loop trim.
func TestS3HallucinationLoopTrim(t *testing.T) {
	s := New(nil)
	makeLoop := func() decoder.Result {
		return mkResult(
			tok("apple", 0, 100, 0.9),
			tok(" banana", 100, 200, 0.9),
			tok(" cherry", 200, 300, 0.9),
			tok(" apple", 300, 400, 0.9),
			tok(" banana", 400, 500, 0.9),
			tok(" cherry", 500, 600, 0.9),
		)
	}
	s.Update(makeLoop(), 1000, 300, 0.10)
	st := s.Update(makeLoop(), 1000, 300, 0.10)

	full := st.RawCommitted + " " + st.RawSpeculative
	if strings.Count(strings.ToLower(full), "apple") != 1 {
		t.Fatalf("combined text = %q, want exactly one occurrence of apple", full)
	}
}

// S4 — Low-probability filter.
func TestS4LowProbabilityFilter(t *testing.T) {
	s := New(nil)
	makeDecode := func() decoder.Result {
		return mkResult(
			tok("one", 0, 100, 0.9),
			tok(" two", 100, 200, 0.9),
			tok(" three", 200, 300, 0.9),
			tok(" four", 300, 400, 0.9),
			tok(" garbage", 400, 500, 0.05),
		)
	}
	s.Update(makeDecode(), 1000, 300, 0.10)
	st := s.Update(makeDecode(), 1000, 300, 0.10)

	full := st.RawCommitted + " " + st.RawSpeculative
	if strings.Contains(full, "garbage") {
		t.Fatalf("full text = %q, must not contain the low-probability token", full)
	}
}

// A decode with all tokens filtered out must not change raw_committed
// (testable property 5).
func TestAllZeroDecodeNoStateChange(t *testing.T) {
	s := New(nil)
	s.Update(mkResult(tok("Hello", 0, 200, 0.9), tok(" world", 200, 500, 0.9)), 1000, 300, 0.10)
	before := s.Snapshot()

	st := s.Update(mkResult(), 1000, 300, 0.10)
	if st.RawCommitted != before.RawCommitted {
		t.Fatalf("raw_committed changed on empty decode: %q -> %q", before.RawCommitted, st.RawCommitted)
	}
}

func TestResetReturnsToEmpty(t *testing.T) {
	s := New(nil)
	s.Update(mkResult(tok("Hello", 0, 200, 0.9)), 1000, 300, 0.10)
	s.Reset()
	st := s.Snapshot()
	if st.Status != StatusEmpty || st.RawCommitted != "" || st.RawSpeculative != "" || st.CommittedWordCount != 0 {
		t.Fatalf("state after reset = %+v, want zero Empty state", st)
	}
}

func TestNotifyTrimmedPreservesCommittedClearsHistory(t *testing.T) {
	s := New(nil)
	decodeA := mkResult(tok("Hello", 0, 200, 0.9), tok(" world", 200, 500, 0.9), tok(" this", 500, 800, 0.9), tok(" is", 800, 1000, 0.9))
	s.Update(decodeA, 1000, 300, 0.10)
	s.Update(decodeA, 1000, 300, 0.10)
	before := s.Snapshot()

	s.NotifyTrimmed()
	after := s.Snapshot()

	if after.RawCommitted != before.RawCommitted {
		t.Fatalf("notify_trimmed changed raw_committed: %q -> %q", before.RawCommitted, after.RawCommitted)
	}
	if len(s.previousNormalized) != 0 {
		t.Fatalf("notify_trimmed should clear previous decode word history")
	}
}

func TestMonotonicCommittedGrowth(t *testing.T) {
	s := New(nil)
	var prevLen int
	var prevWords int
	decode := mkResult(tok("Hello", 0, 200, 0.9), tok(" world", 200, 500, 0.9), tok(" this", 500, 800, 0.9), tok(" is", 800, 1000, 0.9))
	for i := 0; i < 5; i++ {
		st := s.Update(decode, 1000, 300, 0.10)
		if len(st.RawCommitted) < prevLen {
			t.Fatalf("tick %d: raw_committed shrank", i)
		}
		if st.CommittedWordCount < prevWords {
			t.Fatalf("tick %d: committed_word_count decreased", i)
		}
		prevLen = len(st.RawCommitted)
		prevWords = st.CommittedWordCount
	}
}

func TestNoConsecutiveDuplicatePhraseAfterUpdate(t *testing.T) {
	s := New(nil)
	decode := mkResult(
		tok("the", 0, 100, 0.9),
		tok(" the", 100, 200, 0.9),
		tok(" cat", 200, 300, 0.9),
		tok(" sat", 300, 400, 0.9),
	)
	s.Update(decode, 1000, 300, 0.10)
	st := s.Update(decode, 1000, 300, 0.10)

	if strings.Contains(strings.ToLower(st.RawCommitted), "the the") {
		t.Fatalf("raw_committed = %q, contains a consecutive duplicate", st.RawCommitted)
	}
}

func TestFinalizeAllAppendsSpeculativeAndFinalizes(t *testing.T) {
	s := New(nil)
	decode := mkResult(tok("Hello", 0, 200, 0.9), tok(" world.", 200, 500, 0.9))
	s.Update(decode, 1000, 300, 0.10)

	st := s.FinalizeAll()
	if st.Status != StatusFinalized {
		t.Fatalf("status = %v, want Finalized", st.Status)
	}
	if st.RawSpeculative != "" {
		t.Fatalf("raw_speculative after finalize = %q, want empty", st.RawSpeculative)
	}
	if !strings.Contains(st.RawCommitted, "Hello") {
		t.Fatalf("raw_committed = %q, want to still contain Hello", st.RawCommitted)
	}
}

func TestDedupRemoveRepeatedPhrasesStreamingVsFinalize(t *testing.T) {
	text := "I think we should go I think we should go there"
	streaming := removeRepeatedPhrases(text, streamingDedupMinLen)
	finalize := removeRepeatedPhrases(text, finalizeDedupMinLen)

	if strings.Count(streaming, "I think we should go") != 2 {
		t.Fatalf("streaming pass (minLen=7) should preserve both repeats of a 5-word phrase, got %q", streaming)
	}
	if strings.Count(finalize, "I think we should go") != 1 {
		t.Fatalf("finalize pass (minLen=3) should collapse the repeated phrase, got %q", finalize)
	}
}
