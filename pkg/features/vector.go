package features

import (
	"math"
	"time"
)

const (
	// NumMFCC is the number of cepstral coefficients kept per window.
	NumMFCC = 13

	// MaxFormants is the number of formant slots tracked.
	MaxFormants = 4

	// ArrayLen is the length of Vector.Array.
	ArrayLen = NumMFCC + 5 + MaxFormants + 4
)

// Vector is the aggregated description of the voiced part of one frame.
type Vector struct {
	MFCC [NumMFCC]float64

	SpectralCentroid float64
	SpectralRolloff  float64
	SpectralFlux     float64
	SpectralKurtosis float64
	SpectralSkewness float64

	// Formants in Hz, lowest first. Zero marks a slot no window resolved.
	Formants [MaxFormants]float64

	Pitch         float64
	PitchMin      float64
	PitchMax      float64
	PitchVariance float64

	ZeroCrossingRate float64
	Energy           float64

	VoicedRatio float64
	Duration    time.Duration
	SampleRate  int
}

// Array flattens the vector into a fixed-order, roughly unit-scaled slice.
// Enrollment and live detection both go through this method, so the order
// and scaling here are a compatibility contract for stored voiceprints.
func (v *Vector) Array() []float64 {
	out := make([]float64, 0, ArrayLen)

	out = append(out, math.Tanh(v.MFCC[0]/50))
	for i := 1; i < NumMFCC; i++ {
		out = append(out, math.Tanh(v.MFCC[i]/20))
	}

	out = append(out,
		v.SpectralCentroid/4000,
		v.SpectralRolloff/8000,
		v.SpectralFlux/math.Sqrt2,
		math.Tanh(v.SpectralKurtosis/10),
		math.Tanh(v.SpectralSkewness/5),
	)

	for _, f := range v.Formants {
		out = append(out, f/5000)
	}

	out = append(out,
		v.Pitch/400,
		math.Min(math.Sqrt(v.PitchVariance)/100, 1),
		math.Min(v.ZeroCrossingRate*5, 1),
		math.Min(v.Energy*5, 1),
	)

	return out
}

// Reference is a neutral adult voice. Centring on it leaves mostly what
// differs between speakers.
func Reference() *Vector {
	return &Vector{
		SpectralCentroid: 1500,
		SpectralRolloff:  3000,
		SpectralFlux:     0.3,
		Formants:         [MaxFormants]float64{500, 1500, 2500, 3500},
		Pitch:            165,
		PitchVariance:    400,
		ZeroCrossingRate: 0.05,
		Energy:           0.1,
	}
}

var referenceArray = Reference().Array()

// Centered returns Array minus the Reference array.
func (v *Vector) Centered() []float64 {
	out := v.Array()
	for i := range out {
		out[i] -= referenceArray[i]
	}
	return out
}

// FormantList returns the resolved formants without empty slots.
func (v *Vector) FormantList() []float64 {
	var out []float64
	for _, f := range v.Formants {
		if f > 0 {
			out = append(out, f)
		}
	}
	return out
}

// HasPitch reports whether any voiced window produced a pitch estimate.
func (v *Vector) HasPitch() bool {
	return v.Pitch > 0
}
