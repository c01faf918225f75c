// Package wavutil builds WAV-container byte slices from float32 PCM, for
// optional debug audio snapshots alongside a history record.
package wavutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Encode wraps samples (mono, [-1, 1]) as a 16-bit PCM WAV file at
// sampleRate.
func Encode(samples []float32, sampleRate int) []byte {
	pcm := floatToPCM16(samples)

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(f)))
		v := int16(clamped * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
