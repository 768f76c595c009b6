// Package features turns audio frames into the acoustic feature vectors the
// diarization estimators compare.
//
// Frames are cut into 32 ms Hamming windows with 50% overlap. Each window
// passes a voice-activity gate (energy, zero-crossing rate and spectral
// centroid must all look like speech) and only voiced windows contribute to
// the aggregated Vector.
package features

import (
	"errors"
	"time"
)

var (
	// ErrNoVoice is returned when a frame does not contain enough voiced windows
	ErrNoVoice = errors.New("features: no voice activity")

	// ErrInvalidFrame is returned for frames without samples or sample rate
	ErrInvalidFrame = errors.New("features: invalid audio frame")
)

// GateConfig holds the speech ranges a window must fall into to count as voiced.
type GateConfig struct {
	MinRMS      float64
	MinZCR      float64
	MaxZCR      float64
	MinCentroid float64
	MaxCentroid float64
}

// Config controls analysis windowing and feature extraction.
type Config struct {
	Window         time.Duration
	HopRatio       float64
	PreEmphasis    float64
	NumMelBands    int
	LowFreq        float64
	MinPitch       float64
	MaxPitch       float64
	PitchThreshold float64
	RolloffPercent float64
	MinVoicedRatio float64
	Gate           GateConfig
}

// DefaultConfig returns parameters tuned for 8-48 kHz conversational speech.
func DefaultConfig() Config {
	return Config{
		Window:         32 * time.Millisecond,
		HopRatio:       0.5,
		PreEmphasis:    0.97,
		NumMelBands:    26,
		LowFreq:        20,
		MinPitch:       60,
		MaxPitch:       400,
		PitchThreshold: 0.3,
		RolloffPercent: 0.85,
		MinVoicedRatio: 0.3,
		Gate: GateConfig{
			MinRMS:      0.01,
			MinZCR:      0.002,
			MaxZCR:      0.35,
			MinCentroid: 100,
			MaxCentroid: 4000,
		},
	}
}
