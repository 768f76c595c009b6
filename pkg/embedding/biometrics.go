package embedding

import (
	"math"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// BiometricWeights sets how much each profile comparison counts.
type BiometricWeights struct {
	Formant    float64
	PitchRange float64
	Spectral   float64
	Voiceprint float64
}

func DefaultBiometricWeights() BiometricWeights {
	return BiometricWeights{
		Formant:    0.2,
		PitchRange: 0.35,
		Spectral:   0.2,
		Voiceprint: 0.25,
	}
}

// FormantSimilarity compares formants slot by slot. ok is false when
// either side has none.
func FormantSimilarity(frame, profile []float64) (sim float64, ok bool) {
	n := len(frame)
	if len(profile) < n {
		n = len(profile)
	}
	if n == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		hi := math.Max(frame[i], profile[i])
		if hi <= 0 {
			continue
		}
		sum += 1 - math.Abs(frame[i]-profile[i])/hi
	}
	return sum / float64(n), true
}

// PitchRangeOverlap is the share of the frame's pitch range that lies
// inside the profile's range. Disjoint ranges decay with the gap.
func PitchRangeOverlap(v *features.Vector, p *speaker.Profile) (sim float64, ok bool) {
	if !v.HasPitch() || p.PitchMean <= 0 {
		return 0, false
	}
	lo, hi := v.PitchMin, v.PitchMax
	if lo <= 0 || hi <= lo {
		lo, hi = v.Pitch*0.95, v.Pitch*1.05
	}
	plo, phi := p.PitchMin, p.PitchMax
	if plo <= 0 || phi <= plo {
		plo, phi = p.PitchMean*0.9, p.PitchMean*1.1
	}

	overlap := math.Min(hi, phi) - math.Max(lo, plo)
	if overlap > 0 {
		return overlap / (hi - lo), true
	}
	gap := -overlap
	return math.Exp(-gap / 30), true
}

// SpectralShapeSimilarity is the cosine between MFCC 1..12 and the profile
// signature, mapped to [0, 1].
func SpectralShapeSimilarity(v *features.Vector, signature []float64) (sim float64, ok bool) {
	shape := v.MFCC[1:]
	if len(signature) != len(shape) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range shape {
		dot += shape[i] * signature[i]
		na += shape[i] * shape[i]
		nb += signature[i] * signature[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return (dot/math.Sqrt(na*nb) + 1) / 2, true
}

// ProfileScore averages the available biometric comparisons with their
// weights. ok is false when nothing could be compared.
func ProfileScore(v *features.Vector, emb []float32, p *speaker.Profile, w BiometricWeights) (score float64, ok bool) {
	var sum, weights float64
	add := func(sim float64, have bool, weight float64) {
		if have && weight > 0 {
			sum += weight * speaker.Clamp01(sim)
			weights += weight
		}
	}

	sim, have := FormantSimilarity(v.FormantList(), p.Formants)
	add(sim, have, w.Formant)
	sim, have = PitchRangeOverlap(v, p)
	add(sim, have, w.PitchRange)
	sim, have = SpectralShapeSimilarity(v, p.SpectralSignature)
	add(sim, have, w.Spectral)
	if len(p.Voiceprint) > 0 && len(p.Voiceprint) == len(emb) {
		add(Cosine(emb, p.Voiceprint), true, w.Voiceprint)
	}

	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}
