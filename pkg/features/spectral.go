package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// blackmanHarris is the four-term window; its sidelobes sit below -92 dB, so
// bins between resolved harmonics only carry noise.
func blackmanHarris(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		w[i] = 0.35875 - 0.48829*math.Cos(x) + 0.14128*math.Cos(2*x) - 0.01168*math.Cos(3*x)
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// melBank builds triangular filters over the one-sided spectrum.
// Result is [bands][nfft/2+1].
func melBank(bands, nfft, sampleRate int, lowHz, highHz float64) [][]float64 {
	bins := nfft/2 + 1
	lo, hi := hzToMel(lowHz), hzToMel(highHz)
	step := (hi - lo) / float64(bands+1)

	edges := make([]int, bands+2)
	for i := range edges {
		hz := melToHz(lo + float64(i)*step)
		b := int(math.Round(hz * float64(nfft) / float64(sampleRate)))
		if b >= bins {
			b = bins - 1
		}
		if i > 0 && b <= edges[i-1] {
			b = edges[i-1] + 1
		}
		edges[i] = b
	}

	bank := make([][]float64, bands)
	for m := range bank {
		row := make([]float64, bins)
		left, center, right := edges[m], edges[m+1], edges[m+2]
		for k := left; k < center && k < bins; k++ {
			row[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < bins; k++ {
			if right > center {
				row[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = row
	}
	return bank
}

// dct2 is the orthonormal type-II DCT, truncated to n outputs.
func dct2(in []float64, n int) []float64 {
	m := len(in)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		sum := 0.0
		for i, v := range in {
			sum += v * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(m))
		}
		scale := math.Sqrt(2 / float64(m))
		if k == 0 {
			scale = math.Sqrt(1 / float64(m))
		}
		out[k] = sum * scale
	}
	return out
}

// spectrum holds the one-sided magnitude spectrum of one analysis window.
type spectrum struct {
	mag   []float64
	power []float64
	freqs []float64
}

type analyzer struct {
	fft    *fourier.FFT
	nfft   int
	rate   int
	window []float64
	bank   [][]float64
	buf    []float64
	coeffs []complex128
}

func newAnalyzer(winLen, sampleRate int, cfg Config) *analyzer {
	nfft := nextPow2(winLen)
	high := float64(sampleRate) / 2
	return &analyzer{
		fft:    fourier.NewFFT(nfft),
		nfft:   nfft,
		rate:   sampleRate,
		window: hamming(winLen),
		bank:   melBank(cfg.NumMelBands, nfft, sampleRate, cfg.LowFreq, high),
		buf:    make([]float64, nfft),
	}
}

// shape applies pre-emphasis and the Hamming window, zero padding to nfft.
func (a *analyzer) shape(seg []float64, preEmphasis float64) []float64 {
	for i := range a.buf {
		a.buf[i] = 0
	}
	for i := 0; i < len(seg) && i < len(a.window); i++ {
		s := seg[i]
		if i > 0 {
			s -= preEmphasis * seg[i-1]
		}
		a.buf[i] = s * a.window[i]
	}
	return a.buf
}

func (a *analyzer) spectrum(shaped []float64) spectrum {
	a.coeffs = a.fft.Coefficients(a.coeffs, shaped)
	n := len(a.coeffs)
	sp := spectrum{
		mag:   make([]float64, n),
		power: make([]float64, n),
		freqs: make([]float64, n),
	}
	for i, c := range a.coeffs {
		m := cmplx.Abs(c)
		sp.mag[i] = m
		sp.power[i] = m * m / float64(a.nfft)
		sp.freqs[i] = a.fft.Freq(i) * float64(a.rate)
	}
	return sp
}

func (a *analyzer) mfcc(sp spectrum) []float64 {
	logMel := make([]float64, len(a.bank))
	for m, row := range a.bank {
		sum := 0.0
		for k, w := range row {
			if w != 0 {
				sum += w * sp.power[k]
			}
		}
		logMel[m] = math.Log(math.Max(sum, 1e-10))
	}
	return dct2(logMel, NumMFCC)
}

func centroid(sp spectrum) float64 {
	total := 0.0
	for _, m := range sp.mag {
		total += m
	}
	if total == 0 {
		return 0
	}
	return stat.Mean(sp.freqs, sp.mag)
}

func rolloff(sp spectrum, percent float64) float64 {
	total := 0.0
	for _, p := range sp.power {
		total += p
	}
	if total == 0 {
		return 0
	}
	target := percent * total
	acc := 0.0
	for i, p := range sp.power {
		acc += p
		if acc >= target {
			return sp.freqs[i]
		}
	}
	return sp.freqs[len(sp.freqs)-1]
}

// moments returns skewness and excess kurtosis of the magnitude-weighted
// frequency distribution.
func moments(sp spectrum) (skew, kurt float64) {
	total := 0.0
	for _, m := range sp.mag {
		total += m
	}
	if total <= 1 {
		// the weighted estimators divide by (Σw - 1)
		return 0, 0
	}
	skew = stat.Skew(sp.freqs, sp.mag)
	kurt = stat.ExKurtosis(sp.freqs, sp.mag)
	if math.IsNaN(skew) || math.IsInf(skew, 0) {
		skew = 0
	}
	if math.IsNaN(kurt) || math.IsInf(kurt, 0) {
		kurt = 0
	}
	return skew, kurt
}

// unitMag returns the magnitude spectrum scaled to unit L2 norm, for flux.
func unitMag(sp spectrum) []float64 {
	out := make([]float64, len(sp.mag))
	norm := 0.0
	for _, m := range sp.mag {
		norm += m * m
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i, m := range sp.mag {
		out[i] = m / norm
	}
	return out
}

func flux(prev, cur []float64) float64 {
	if len(prev) != len(cur) {
		return 0
	}
	sum := 0.0
	for i := range cur {
		d := cur[i] - prev[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func zeroCrossingRate(seg []float64) float64 {
	if len(seg) < 2 {
		return 0
	}
	n := 0
	for i := 1; i < len(seg); i++ {
		if (seg[i-1] >= 0) != (seg[i] >= 0) {
			n++
		}
	}
	return float64(n) / float64(len(seg)-1)
}
