package pipelineerr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindDecode, ErrDecodeStalled)
	if !Is(err, KindDecode) {
		t.Fatal("expected Is to match KindDecode")
	}
	if Is(err, KindDevice) {
		t.Fatal("did not expect Is to match KindDevice")
	}
}

func TestUnwrap(t *testing.T) {
	err := New(KindModel, ErrModelMissing)
	if !errors.Is(err, ErrModelMissing) {
		t.Fatal("expected errors.Is to see through to sentinel")
	}
}
