// Package pipelineerr defines the categorical error taxonomy the core
// raises. Errors are kind + message only; backend specifics are never
// attached to the exported sentinels.
package pipelineerr

import "errors"

// Kind classifies an error into one of the taxonomy buckets so callers can
// decide propagation policy without string matching.
type Kind string

const (
	// KindDevice covers audio capture init/permission/disconnect failures.
	// Surfaced to the UI; recording terminates.
	KindDevice Kind = "device"

	// KindModel covers missing model, load failure, or a null context.
	// Surfaced; recording is not startable.
	KindModel Kind = "model"

	// KindDecode covers window or full decode failure, timeout, or stall.
	// Window errors are logged and dropped; a full-decode failure at
	// finalization falls back to finalize_all.
	KindDecode Kind = "decode"

	// KindResource covers accumulator-exceeds-cap and decoder-busy cases.
	KindResource Kind = "resource"

	// KindInvariant covers a stabilizer update that would violate a
	// monotonicity invariant (committed shrinks, tokens out of order).
	KindInvariant Kind = "invariant"
)

var (
	ErrDeviceInitFailed     = errors.New("audio capture device failed to initialize")
	ErrDevicePermission     = errors.New("audio capture permission denied")
	ErrDeviceDisconnected   = errors.New("audio capture device disconnected")
	ErrModelMissing         = errors.New("decoder model file not found")
	ErrModelLoadFailed      = errors.New("decoder model failed to load")
	ErrModelNotLoaded       = errors.New("decoder model is not loaded")
	ErrDecodeFailed         = errors.New("decode operation failed")
	ErrDecodeStalled        = errors.New("decode exceeded wall-clock budget")
	ErrDecoderBusy          = errors.New("a decode is already in flight")
	ErrAccumulatorOverCap   = errors.New("accumulator exceeded maximum session duration")
	ErrInvariantViolation   = errors.New("stabilizer update would violate a monotonicity invariant")
)

// Error wraps a categorical Kind around an underlying error. Its message is
// the kind followed by the wrapped error's full message, so any backend
// detail that error carries is included.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorical Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
