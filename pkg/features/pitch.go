package features

import "math"

// pitch estimates the fundamental frequency of a raw window using the
// normalized cross-correlation function. Returns 0 for unvoiced windows.
func pitch(seg []float64, sampleRate int, cfg Config) float64 {
	minLag := int(float64(sampleRate) / cfg.MaxPitch)
	maxLag := int(float64(sampleRate) / cfg.MinPitch)
	if minLag < 2 {
		minLag = 2
	}
	if maxLag >= len(seg)-minLag {
		maxLag = len(seg) - minLag - 1
	}
	if maxLag <= minLag {
		return 0
	}

	mean := 0.0
	for _, s := range seg {
		mean += s
	}
	mean /= float64(len(seg))
	x := make([]float64, len(seg))
	for i, s := range seg {
		x[i] = s - mean
	}

	nccf := make([]float64, maxLag+2)
	best := 0.0
	for lag := minLag; lag <= maxLag+1 && lag < len(x); lag++ {
		var num, e0, e1 float64
		for i := 0; i+lag < len(x); i++ {
			num += x[i] * x[i+lag]
			e0 += x[i] * x[i]
			e1 += x[i+lag] * x[i+lag]
		}
		if e0 == 0 || e1 == 0 {
			continue
		}
		nccf[lag] = num / math.Sqrt(e0*e1)
		if lag <= maxLag && nccf[lag] > best {
			best = nccf[lag]
		}
	}
	if best < cfg.PitchThreshold {
		return 0
	}

	// Prefer the shortest lag that is a local peak close to the best one,
	// which avoids locking onto a multiple of the true period.
	chosen := -1
	for lag := minLag + 1; lag <= maxLag; lag++ {
		v := nccf[lag]
		if v >= 0.9*best && v >= nccf[lag-1] && v >= nccf[lag+1] {
			chosen = lag
			break
		}
	}
	if chosen < 0 {
		return 0
	}

	// parabolic refinement
	l := float64(chosen)
	y0, y1, y2 := nccf[chosen-1], nccf[chosen], nccf[chosen+1]
	if d := y0 - 2*y1 + y2; d != 0 {
		shift := 0.5 * (y0 - y2) / d
		if math.Abs(shift) < 1 {
			l += shift
		}
	}
	return float64(sampleRate) / l
}
