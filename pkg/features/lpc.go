package features

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	minFormantHz        = 90
	maxFormantBandwidth = 400
)

func autocorr(x []float64, maxLag int) []float64 {
	r := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag && lag < len(x); lag++ {
		sum := 0.0
		for i := lag; i < len(x); i++ {
			sum += x[i] * x[i-lag]
		}
		r[lag] = sum
	}
	return r
}

// levinson solves the LPC normal equations. The returned slice holds
// a[0..order] with a[0] = 1.
func levinson(r []float64, order int) ([]float64, bool) {
	if len(r) <= order || r[0] <= 0 {
		return nil, false
	}
	a := make([]float64, order+1)
	tmp := make([]float64, order+1)
	a[0] = 1
	e := r[0]

	for i := 1; i <= order; i++ {
		acc := r[i]
		for j := 1; j < i; j++ {
			acc += a[j] * r[i-j]
		}
		k := -acc / e
		copy(tmp, a)
		for j := 1; j < i; j++ {
			a[j] = tmp[j] + k*tmp[i-j]
		}
		a[i] = k
		e *= 1 - k*k
		if e <= 0 {
			return nil, false
		}
	}
	return a, true
}

// formants estimates resonances from the roots of the LPC polynomial,
// found as eigenvalues of its companion matrix.
func formants(shaped []float64, sampleRate int) []float64 {
	order := 2 + sampleRate/1000
	if order > 24 {
		order = 24
	}
	if len(shaped) <= order {
		return nil
	}

	a, ok := levinson(autocorr(shaped, order), order)
	if !ok {
		return nil
	}

	comp := mat.NewDense(order, order, nil)
	for j := 0; j < order; j++ {
		comp.Set(0, j, -a[j+1])
	}
	for i := 1; i < order; i++ {
		comp.Set(i, i-1, 1)
	}

	var eig mat.Eigen
	if !eig.Factorize(comp, mat.EigenNone) {
		return nil
	}

	fs := float64(sampleRate)
	var out []float64
	for _, root := range eig.Values(nil) {
		if imag(root) <= 0 {
			continue
		}
		freq := math.Atan2(imag(root), real(root)) * fs / (2 * math.Pi)
		bw := -fs / math.Pi * math.Log(cmplx.Abs(root))
		if freq > minFormantHz && bw > 0 && bw < maxFormantBandwidth {
			out = append(out, freq)
		}
	}
	sort.Float64s(out)
	if len(out) > MaxFormants {
		out = out[:MaxFormants]
	}
	return out
}
