package audio

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestDecodeWav(t *testing.T) {
	samples := make([]float64, 1600)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/16000)
	}
	wav := NewWavBuffer(SamplesToBytes(samples), 16000)

	frame, err := DecodeWav(wav)
	require.NoError(t, err)
	assert.Equal(t, 16000, frame.SampleRate)
	require.Len(t, frame.Samples, len(samples))
	for i := range samples {
		assert.InDelta(t, samples[i], frame.Samples[i], 1e-4)
	}
	assert.Equal(t, 100*time.Millisecond, frame.Duration())
}

func TestDecodeWav_Rejects(t *testing.T) {
	_, err := DecodeWav([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrNotWav)

	wav := NewWavBuffer([]byte{0, 0}, 8000)
	// flip the bits-per-sample field to 8
	wav[34] = 8
	_, err = DecodeWav(wav)
	assert.ErrorIs(t, err, ErrUnsupportedWav)
}

func TestRMSAndPeak(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	s := []float64{0.5, -0.5, 0.5, -0.5}
	assert.InDelta(t, 0.5, RMS(s), 1e-9)
	assert.InDelta(t, 0.5, Peak(s), 1e-9)

	back := BytesToSamples(SamplesToBytes([]float64{2, -2}))
	assert.InDelta(t, 1.0, back[0], 1e-3)
	assert.InDelta(t, -1.0, back[1], 1e-3)
}
