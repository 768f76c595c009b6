package features

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
)

// QualityReason is a machine-readable rejection cause for a recording.
type QualityReason string

const (
	ReasonTooQuiet QualityReason = "too_quiet"
	ReasonTooShort QualityReason = "too_short"
	ReasonTooNoisy QualityReason = "too_noisy"
	ReasonUnclear  QualityReason = "unclear"
	ReasonClipping QualityReason = "clipping"
	ReasonNoVoice  QualityReason = "no_voice"
)

var hints = map[QualityReason]string{
	ReasonTooQuiet: "Speak a little louder or move closer to the microphone.",
	ReasonTooShort: "Keep speaking until the prompt finishes.",
	ReasonTooNoisy: "Find a quieter spot or reduce background noise.",
	ReasonUnclear:  "Speak clearly and at a steady pace.",
	ReasonClipping: "You are too close to the microphone, back off slightly.",
	ReasonNoVoice:  "No speech was detected, please try again.",
}

// Hint returns human guidance for a rejection reason.
func (r QualityReason) Hint() string {
	return hints[r]
}

// QualityConfig holds acceptance thresholds for enrollment recordings.
type QualityConfig struct {
	// NoiseWindow is the Welch window used for the noise floor. It must be
	// long enough to resolve the harmonics of a low voice.
	NoiseWindow time.Duration

	// NoisePercentile picks the noise floor among in-band spectrum bins.
	NoisePercentile float64

	BandLow  float64
	BandHigh float64

	MinDuration      time.Duration
	MinRMS           float64
	MinSNR           float64
	MinClarity       float64
	MaxClippingRatio float64
	MaxSNR           float64
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		NoiseWindow:      128 * time.Millisecond,
		NoisePercentile:  0.1,
		BandLow:          100,
		BandHigh:         4000,
		MinDuration:      2 * time.Second,
		MinRMS:           0.02,
		MinSNR:           12,
		MinClarity:       0.5,
		MaxClippingRatio: 0.01,
		MaxSNR:           60,
	}
}

// Quality summarizes how suitable a recording is for enrollment.
type Quality struct {
	SNR           float64         `json:"snr_db"`
	Clarity       float64         `json:"clarity"`
	RMS           float64         `json:"rms"`
	Peak          float64         `json:"peak"`
	ClippingRatio float64         `json:"clipping_ratio"`
	Duration      time.Duration   `json:"duration"`
	Score         float64         `json:"score"`
	Reasons       []QualityReason `json:"reasons,omitempty"`
	Hints         []string        `json:"hints,omitempty"`
}

// Acceptable reports whether no rejection reason was raised.
func (q Quality) Acceptable() bool {
	return len(q.Reasons) == 0
}

// Reject records an additional rejection reason.
func (q *Quality) Reject(r QualityReason) {
	for _, existing := range q.Reasons {
		if existing == r {
			return
		}
	}
	q.Reasons = append(q.Reasons, r)
	q.Hints = append(q.Hints, r.Hint())
}

// AnalyzeQuality measures level, noise floor and clarity of a recording.
func AnalyzeQuality(frame audio.Frame, cfg QualityConfig) Quality {
	q := Quality{Duration: frame.Duration()}
	if !frame.Valid() {
		q.Reject(ReasonTooShort)
		return q
	}

	samples := frame.Samples
	q.RMS = audio.RMS(samples)
	q.Peak = audio.Peak(samples)

	clipped := 0
	for _, s := range samples {
		if math.Abs(s) >= 0.99 {
			clipped++
		}
	}
	q.ClippingRatio = float64(clipped) / float64(len(samples))

	q.SNR = estimateSNR(samples, frame.SampleRate, cfg)
	q.Clarity = clarity(q, cfg)

	if q.Duration < cfg.MinDuration {
		q.Reject(ReasonTooShort)
	}
	if q.RMS < cfg.MinRMS {
		q.Reject(ReasonTooQuiet)
	}
	if q.ClippingRatio > cfg.MaxClippingRatio {
		q.Reject(ReasonClipping)
	}
	if q.SNR < cfg.MinSNR {
		q.Reject(ReasonTooNoisy)
	}
	if q.Clarity < cfg.MinClarity {
		q.Reject(ReasonUnclear)
	}

	level := math.Min(q.RMS/(2*cfg.MinRMS), 1)
	q.Score = 0.4*math.Min(q.SNR/30, 1) + 0.4*q.Clarity + 0.2*level
	return q
}

// estimateSNR compares the total power of the recording with a noise floor
// read from the valleys of its Welch power spectrum. Voiced speech only
// fills the bins around its harmonics, so a low percentile of the speech
// band tracks the noise even when every window is voiced.
func estimateSNR(samples []float64, sampleRate int, cfg QualityConfig) float64 {
	n := nextPow2(int(float64(sampleRate) * cfg.NoiseWindow.Seconds()))
	if n < 64 {
		n = 64
	}
	hop := n / 2
	offset := stat.Mean(samples, nil)
	window := blackmanHarris(n)
	fft := fourier.NewFFT(n)
	seg := make([]float64, n)
	psd := make([]float64, n/2+1)
	var coeffs []complex128

	// only whole windows; a recording shorter than one window is zero-padded
	for start, count := 0, 0; count == 0 || start+n <= len(samples); start, count = start+hop, count+1 {
		for i := range seg {
			seg[i] = 0
			if j := start + i; j < len(samples) {
				seg[i] = (samples[j] - offset) * window[i]
			}
		}
		coeffs = fft.Coefficients(coeffs, seg)
		for k, c := range coeffs {
			psd[k] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	nyquist := float64(sampleRate) / 2
	high := math.Min(cfg.BandHigh, 0.9*nyquist)
	lo := int(math.Ceil(cfg.BandLow * float64(n) / float64(sampleRate)))
	hi := int(high * float64(n) / float64(sampleRate))
	if lo < 1 {
		lo = 1
	}
	if hi > n/2 {
		hi = n / 2
	}
	if hi <= lo {
		return 0
	}

	band := append([]float64(nil), psd[lo:hi+1]...)
	sort.Float64s(band)
	floor := stat.Quantile(cfg.NoisePercentile, stat.Empirical, band, nil)
	total := floats.Sum(psd[1:]) / float64(n/2)
	if total <= 0 {
		return 0
	}
	if floor <= 0 {
		return cfg.MaxSNR
	}
	ratio := total/floor - 1
	if ratio <= 0 {
		return 0
	}
	return math.Max(0, math.Min(10*math.Log10(ratio), cfg.MaxSNR))
}

func clarity(q Quality, cfg QualityConfig) float64 {
	if q.RMS == 0 {
		return 0
	}
	clean := math.Min(q.SNR/30, 1)

	crest := q.Peak / q.RMS
	var crestScore float64
	switch {
	case crest < 1.5:
		crestScore = 0
	case crest < 2.5:
		crestScore = (crest - 1.5) / 1.0
	case crest <= 12:
		crestScore = 1
	default:
		crestScore = math.Max(0, 1-(crest-12)/12)
	}

	clip := 1 - math.Min(q.ClippingRatio/math.Max(cfg.MaxClippingRatio, 1e-6), 1)

	return 0.5*clean + 0.3*crestScore + 0.2*clip
}
