package features

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
)

// Extractor computes feature vectors from audio frames. It is safe for
// concurrent use; per-rate analysis state is cached.
type Extractor struct {
	cfg  Config
	gate *Gate

	mu        sync.Mutex
	analyzers map[int]*analyzer
}

// NewExtractor creates an extractor with the given config.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		cfg:       cfg,
		gate:      NewGate(cfg.Gate),
		analyzers: make(map[int]*analyzer),
	}
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

func (e *Extractor) windowing(sampleRate int) (winLen, hop int) {
	winLen = int(float64(sampleRate) * e.cfg.Window.Seconds())
	if winLen < 16 {
		winLen = 16
	}
	hop = int(float64(winLen) * e.cfg.HopRatio)
	if hop < 1 {
		hop = 1
	}
	return winLen, hop
}

// borrow hands out an analyzer for the rate. Analyzers carry scratch
// buffers, so a busy one is replaced by a fresh instance for this call.
func (e *Extractor) borrow(sampleRate, winLen int) *analyzer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.analyzers[sampleRate]; ok {
		delete(e.analyzers, sampleRate)
		return a
	}
	return newAnalyzer(winLen, sampleRate, e.cfg)
}

func (e *Extractor) giveBack(sampleRate int, a *analyzer) {
	e.mu.Lock()
	e.analyzers[sampleRate] = a
	e.mu.Unlock()
}

// Voiced runs only the per-window gate and reports whether the frame
// reaches MinVoicedRatio. It is the verdict Extract applies before
// computing features.
func (e *Extractor) Voiced(frame audio.Frame) bool {
	if !frame.Valid() {
		return false
	}

	winLen, hop := e.windowing(frame.SampleRate)
	samples := frame.Samples
	if len(samples) < winLen {
		padded := make([]float64, winLen)
		copy(padded, samples)
		samples = padded
	}

	a := e.borrow(frame.SampleRate, winLen)
	defer e.giveBack(frame.SampleRate, a)

	voiced, total := 0, 0
	for start := 0; start+winLen <= len(samples); start += hop {
		seg := samples[start : start+winLen]
		total++
		rms := audio.RMS(seg)
		if rms < e.cfg.Gate.MinRMS {
			continue
		}
		sp := a.spectrum(a.shape(seg, e.cfg.PreEmphasis))
		if e.gate.Voiced(rms, zeroCrossingRate(seg), centroid(sp)) {
			voiced++
		}
	}
	return voiced > 0 && float64(voiced)/float64(total) >= e.cfg.MinVoicedRatio
}

type windowStats struct {
	voiced int
	total  int

	mfcc       [NumMFCC]float64
	centroid   float64
	rolloff    float64
	skew       float64
	kurt       float64
	zcr        float64
	rms        float64
	fluxSum    float64
	fluxN      int
	pitches    []float64
	formantSum [MaxFormants]float64
	formantN   [MaxFormants]int
}

// Extract returns the feature vector for the voiced part of the frame, or
// ErrNoVoice when too few windows pass the gate.
func (e *Extractor) Extract(frame audio.Frame) (*Vector, error) {
	if !frame.Valid() {
		return nil, ErrInvalidFrame
	}

	winLen, hop := e.windowing(frame.SampleRate)
	samples := frame.Samples
	if len(samples) < winLen {
		padded := make([]float64, winLen)
		copy(padded, samples)
		samples = padded
	}

	a := e.borrow(frame.SampleRate, winLen)
	defer e.giveBack(frame.SampleRate, a)

	var ws windowStats
	var prevMag []float64

	for start := 0; start+winLen <= len(samples); start += hop {
		seg := samples[start : start+winLen]
		ws.total++

		rms := audio.RMS(seg)
		zcr := zeroCrossingRate(seg)
		shaped := a.shape(seg, e.cfg.PreEmphasis)
		sp := a.spectrum(shaped)
		c := centroid(sp)

		if !e.gate.Voiced(rms, zcr, c) {
			prevMag = nil
			continue
		}
		ws.voiced++

		coeffs := a.mfcc(sp)
		for i := range ws.mfcc {
			ws.mfcc[i] += coeffs[i]
		}
		ws.centroid += c
		ws.rolloff += rolloff(sp, e.cfg.RolloffPercent)
		skew, kurt := moments(sp)
		ws.skew += skew
		ws.kurt += kurt
		ws.zcr += zcr
		ws.rms += rms

		mag := unitMag(sp)
		if prevMag != nil {
			ws.fluxSum += flux(prevMag, mag)
			ws.fluxN++
		}
		prevMag = mag

		for i, f := range formants(shaped[:winLen], frame.SampleRate) {
			ws.formantSum[i] += f
			ws.formantN[i]++
		}

		if p := pitch(seg, frame.SampleRate, e.cfg); p > 0 {
			ws.pitches = append(ws.pitches, p)
		}
	}

	if ws.total == 0 || ws.voiced == 0 {
		return nil, ErrNoVoice
	}
	ratio := float64(ws.voiced) / float64(ws.total)
	if ratio < e.cfg.MinVoicedRatio {
		return nil, ErrNoVoice
	}

	n := float64(ws.voiced)
	v := &Vector{
		SpectralCentroid: ws.centroid / n,
		SpectralRolloff:  ws.rolloff / n,
		SpectralSkewness: ws.skew / n,
		SpectralKurtosis: ws.kurt / n,
		ZeroCrossingRate: ws.zcr / n,
		Energy:           ws.rms / n,
		VoicedRatio:      ratio,
		Duration:         frame.Duration(),
		SampleRate:       frame.SampleRate,
	}
	for i := range v.MFCC {
		v.MFCC[i] = ws.mfcc[i] / n
	}
	if ws.fluxN > 0 {
		v.SpectralFlux = ws.fluxSum / float64(ws.fluxN)
	}
	for i := range v.Formants {
		if ws.formantN[i] > 0 {
			v.Formants[i] = ws.formantSum[i] / float64(ws.formantN[i])
		}
	}
	if len(ws.pitches) > 0 {
		v.Pitch = stat.Mean(ws.pitches, nil)
		v.PitchMin, v.PitchMax = ws.pitches[0], ws.pitches[0]
		for _, p := range ws.pitches {
			if p < v.PitchMin {
				v.PitchMin = p
			}
			if p > v.PitchMax {
				v.PitchMax = p
			}
		}
		if len(ws.pitches) > 1 {
			v.PitchVariance = stat.Variance(ws.pitches, nil)
		}
	}

	return v, nil
}
