package audio

import (
	"math"
	"time"
)

// Frame is a fixed-length block of mono audio delivered by the capture side.
// Samples are normalized to [-1, 1].
type Frame struct {
	Samples    []float64
	SampleRate int
	Timestamp  time.Time
}

// FrameFromPCM16 builds a Frame from 16-bit little-endian mono PCM.
func FrameFromPCM16(pcm []byte, sampleRate int, ts time.Time) Frame {
	return Frame{
		Samples:    BytesToSamples(pcm),
		SampleRate: sampleRate,
		Timestamp:  ts,
	}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether the frame can be analyzed.
func (f Frame) Valid() bool {
	return f.SampleRate > 0 && len(f.Samples) > 0
}

// PCM16 encodes the frame back to 16-bit little-endian PCM.
func (f Frame) PCM16() []byte {
	return SamplesToBytes(f.Samples)
}

// BytesToSamples converts byte array (16-bit little-endian) to float64 samples in [-1, 1]
func BytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)

	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}

	return samples
}

// SamplesToBytes converts float64 samples to 16-bit little-endian PCM, clipping to range.
func SamplesToBytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// Energy computes the sum of squared samples
func Energy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// RMS returns the root mean square level of the samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(Energy(samples) / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}
