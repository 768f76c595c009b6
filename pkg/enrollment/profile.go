package enrollment

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/embedding"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// BuildProfile aggregates accepted samples into a speaker profile. The
// profile is complete only with at least minSamples samples.
func BuildProfile(s speaker.Speaker, samples []Sample, minSamples int, now time.Time) *speaker.Profile {
	if minSamples < 1 {
		minSamples = 1
	}
	p := &speaker.Profile{
		Speaker:     s,
		SampleCount: len(samples),
		IsComplete:  len(samples) >= minSamples,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(samples) == 0 {
		return p
	}

	var (
		pitches, withinVar, energies, scores []float64
		embeddings                           [][]float32
		formantSums                          [features.MaxFormants]float64
		formantCounts                        [features.MaxFormants]int
		signature                            = make([]float64, features.NumMFCC-1)
	)
	p.PitchMin = math.Inf(1)
	for _, smp := range samples {
		v := smp.Features
		scores = append(scores, smp.Quality.Score)
		if smp.Embedding != nil {
			embeddings = append(embeddings, smp.Embedding)
		}
		if v == nil {
			continue
		}
		if v.HasPitch() {
			pitches = append(pitches, v.Pitch)
			withinVar = append(withinVar, v.PitchVariance)
			p.PitchMin = math.Min(p.PitchMin, v.PitchMin)
			p.PitchMax = math.Max(p.PitchMax, v.PitchMax)
		}
		energies = append(energies, v.Energy)
		for i, f := range v.Formants {
			if f > 0 {
				formantSums[i] += f
				formantCounts[i]++
			}
		}
		for i := range signature {
			signature[i] += v.MFCC[i+1] / float64(len(samples))
		}
	}

	if len(pitches) > 0 {
		p.PitchMean = stat.Mean(pitches, nil)
		// total variance: mean within-sample variance plus spread of the means
		p.PitchVariance = stat.Mean(withinVar, nil)
		if len(pitches) > 1 {
			p.PitchVariance += stat.PopVariance(pitches, nil)
		}
	} else {
		p.PitchMin = 0
	}
	if len(energies) > 0 {
		p.EnergyMean = stat.Mean(energies, nil)
	}
	for i, n := range formantCounts {
		if n == 0 {
			break
		}
		p.Formants = append(p.Formants, formantSums[i]/float64(n))
	}
	p.SpectralSignature = signature
	p.Quality = stat.Mean(scores, nil)

	if len(embeddings) > 0 {
		p.Voiceprint = embedding.Mean(embeddings)
		p.Consistency = consistency(embeddings)
	}
	return p
}

// consistency is the mean pairwise cosine similarity of the embeddings.
func consistency(embs [][]float32) float64 {
	if len(embs) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := range embs {
		for j := i + 1; j < len(embs); j++ {
			sum += embedding.Cosine(embs[i], embs[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
