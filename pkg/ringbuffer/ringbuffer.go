// Package ringbuffer implements a fixed-capacity circular store of 16 kHz
// mono float32 PCM samples with absolute-time addressing.
package ringbuffer

import "sync"

// Window is a copy of the last up-to-capacity samples in chronological
// order, with absolute millisecond boundaries.
type Window struct {
	PCM             []float32
	StartAbsMs      int64
	EndAbsMs        int64
}

// Buffer is a single-producer (audio callback) / single-consumer
// (scheduler tick) fixed-capacity ring of float32 samples. TotalWritten is
// monotonic and never wraps; it is the sole source of absolute time.
type Buffer struct {
	mu sync.Mutex

	storage      []float32
	capacity     int
	sampleRate   int
	writeHead    int
	totalWritten int64
}

// New creates a Buffer with room for capacity samples at the given sample
// rate. capacity must be > 0.
func New(capacity int, sampleRate int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Buffer{
		storage:    make([]float32, capacity),
		capacity:   capacity,
		sampleRate: sampleRate,
	}
}

// Append copies samples into the ring at the current write head, wrapping
// as needed, and advances WriteHead and TotalWritten. Must only be called
// from the audio callback context.
func (b *Buffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(samples)
	if n >= b.capacity {
		// Only the tail fits; keep the most recent capacity samples.
		copy(b.storage, samples[n-b.capacity:])
		b.writeHead = 0
		b.totalWritten += int64(n)
		return
	}

	head := b.writeHead
	first := b.capacity - head
	if first > n {
		first = n
	}
	copy(b.storage[head:head+first], samples[:first])
	remaining := n - first
	if remaining > 0 {
		copy(b.storage[:remaining], samples[first:])
	}
	b.writeHead = (head + n) % b.capacity
	b.totalWritten += int64(n)
}

// GetWindow returns the last up-to-capacity samples in chronological
// order. If fewer than capacity samples have ever been written, it returns
// all of them starting at sample index 0.
func (b *Buffer) GetWindow() Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.totalWritten
	visible := total
	if visible > int64(b.capacity) {
		visible = int64(b.capacity)
	}

	out := make([]float32, visible)
	if visible > 0 {
		// The oldest visible sample sits at writeHead (if the ring is full)
		// or at index 0 (if it has never wrapped).
		var start int
		if total >= int64(b.capacity) {
			start = b.writeHead
		}
		n := int(visible)
		firstLen := b.capacity - start
		if firstLen > n {
			firstLen = n
		}
		copy(out[:firstLen], b.storage[start:start+firstLen])
		if n-firstLen > 0 {
			copy(out[firstLen:], b.storage[:n-firstLen])
		}
	}

	startSample := total - visible
	if startSample < 0 {
		startSample = 0
	}

	return Window{
		PCM:        out,
		StartAbsMs: b.sampleIndexToAbsMsLocked(startSample),
		EndAbsMs:   b.sampleIndexToAbsMsLocked(total),
	}
}

// TotalWritten returns the monotonic count of samples ever appended.
func (b *Buffer) TotalWritten() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalWritten
}

// SampleIndexToAbsMs converts a sample index to absolute milliseconds using
// the configured sample rate.
func (b *Buffer) SampleIndexToAbsMs(sampleIndex int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleIndexToAbsMsLocked(sampleIndex)
}

func (b *Buffer) sampleIndexToAbsMsLocked(sampleIndex int64) int64 {
	return sampleIndex * 1000 / int64(b.sampleRate)
}

// AbsMsToSampleIndex converts absolute milliseconds to a sample index using
// the configured sample rate.
func (b *Buffer) AbsMsToSampleIndex(absMs int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return absMs * int64(b.sampleRate) / 1000
}

// Reset zeroes both counters. The underlying storage may be left
// uninitialized; stale bytes are never visible because GetWindow only ever
// reads up to TotalWritten samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeHead = 0
	b.totalWritten = 0
}
