// Package captureaudio wraps malgo's capture-only device into a small
// callback-driven source of mono 16kHz float32 PCM.
package captureaudio

import (
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// Capture owns one malgo capture-only device and context.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// OnSamples receives one callback's worth of decoded float32 mono samples.
type OnSamples func(samples []float32)

// Start initializes a capture-only device at sampleRate and begins invoking
// onSamples as frames arrive. Call Stop to release both device and context.
func Start(sampleRate int, onSamples OnSamples) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("captureaudio: init context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onData := func(_, pInput []byte, frameCount uint32) {
		if len(pInput) == 0 {
			return
		}
		onSamples(pcm16ToFloat32(pInput))
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		ctx.Uninit()
		return nil, fmt.Errorf("captureaudio: init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		return nil, fmt.Errorf("captureaudio: start device: %w", err)
	}

	return &Capture{ctx: ctx, device: device}, nil
}

// Stop halts capture and releases the device and context. Safe to call at
// most once.
func (c *Capture) Stop() {
	if c == nil {
		return
	}
	if c.device != nil {
		c.device.Uninit()
	}
	if c.ctx != nil {
		c.ctx.Uninit()
	}
}

func pcm16ToFloat32(pInput []byte) []float32 {
	n := len(pInput) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(pInput[2*i]) | (int16(pInput[2*i+1]) << 8)
		out[i] = float32(math.Max(-1.0, math.Min(1.0, float64(sample)/32768.0)))
	}
	return out
}
