package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
)

// capture wraps a mono 16-bit malgo capture device.
type capture struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

func startCapture(sampleRate int, onPCM func([]byte)) (*capture, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			if len(pInput) > 0 {
				onPCM(pInput)
			}
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return &capture{mctx: mctx, device: device}, nil
}

func (c *capture) Close() {
	c.device.Uninit()
	_ = c.mctx.Uninit()
	c.mctx.Free()
}

// framer cuts the capture callback's byte stream into fixed-length frames.
type framer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	rate int
	emit func(audio.Frame)
}

func newFramer(sampleRate int, frame time.Duration, emit func(audio.Frame)) *framer {
	size := int(frame.Seconds()*float64(sampleRate)) * 2
	return &framer{size: max(size, 2), rate: sampleRate, emit: emit}
}

func (f *framer) push(pcm []byte) {
	f.mu.Lock()
	f.buf = append(f.buf, pcm...)
	var ready [][]byte
	for len(f.buf) >= f.size {
		chunk := make([]byte, f.size)
		copy(chunk, f.buf[:f.size])
		ready = append(ready, chunk)
		f.buf = f.buf[f.size:]
	}
	f.mu.Unlock()

	for _, chunk := range ready {
		f.emit(audio.FrameFromPCM16(chunk, f.rate, time.Now()))
	}
}

// recordFor captures d of audio from the default device.
func recordFor(ctx context.Context, sampleRate int, d time.Duration) (audio.Frame, error) {
	var (
		mu  sync.Mutex
		pcm []byte
	)
	c, err := startCapture(sampleRate, func(in []byte) {
		mu.Lock()
		pcm = append(pcm, in...)
		mu.Unlock()
	})
	if err != nil {
		return audio.Frame{}, err
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	c.Close()
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	return audio.FrameFromPCM16(pcm, sampleRate, time.Now()), nil
}
