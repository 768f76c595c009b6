package speaker

import "time"

// Profile is the enrolled voice of one participant.
type Profile struct {
	Speaker Speaker `msgpack:"speaker" json:"speaker"`

	PitchMean     float64 `msgpack:"pitch_mean" json:"pitch_mean"`
	PitchMin      float64 `msgpack:"pitch_min" json:"pitch_min"`
	PitchMax      float64 `msgpack:"pitch_max" json:"pitch_max"`
	PitchVariance float64 `msgpack:"pitch_variance" json:"pitch_variance"`
	EnergyMean    float64 `msgpack:"energy_mean" json:"energy_mean"`

	// Formants holds averaged formant frequencies in Hz, lowest first.
	Formants []float64 `msgpack:"formants" json:"formants"`

	// SpectralSignature is the mean of MFCC coefficients 1..12.
	SpectralSignature []float64 `msgpack:"spectral_signature" json:"spectral_signature"`

	// Voiceprint is the normalized mean embedding of the accepted samples.
	Voiceprint []float32 `msgpack:"voiceprint" json:"voiceprint"`

	SampleCount int     `msgpack:"sample_count" json:"sample_count"`
	Quality     float64 `msgpack:"quality" json:"quality"`
	Consistency float64 `msgpack:"consistency" json:"consistency"`
	IsComplete  bool    `msgpack:"is_complete" json:"is_complete"`

	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at" json:"updated_at"`
}

// RecalibrationPolicy decides when a profile stops being trustworthy.
type RecalibrationPolicy struct {
	MaxAge     time.Duration
	MinQuality float64
}

// DefaultRecalibrationPolicy expires profiles after a week.
func DefaultRecalibrationPolicy() RecalibrationPolicy {
	return RecalibrationPolicy{
		MaxAge:     7 * 24 * time.Hour,
		MinQuality: 0.5,
	}
}

// NeedsRecalibration is true once the profile is older than the retention
// window or its mean sample quality is below the policy floor.
func (p *Profile) NeedsRecalibration(now time.Time, policy RecalibrationPolicy) bool {
	if p == nil {
		return false
	}
	if policy.MaxAge > 0 && now.Sub(p.UpdatedAt) > policy.MaxAge {
		return true
	}
	return p.Quality < policy.MinQuality
}

// Usable reports whether the profile may inform detection at all.
func (p *Profile) Usable() bool {
	return p != nil && p.IsComplete
}

// Authoritative reports whether the profile may be trusted at full weight.
func (p *Profile) Authoritative(now time.Time, policy RecalibrationPolicy) bool {
	return p.Usable() && !p.NeedsRecalibration(now, policy)
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Formants = append([]float64(nil), p.Formants...)
	c.SpectralSignature = append([]float64(nil), p.SpectralSignature...)
	c.Voiceprint = append([]float32(nil), p.Voiceprint...)
	return &c
}
