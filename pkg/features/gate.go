package features

// Gate decides whether a single analysis window carries speech.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a gate with the given ranges.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Voiced requires energy, zero-crossing rate and spectral centroid to fall
// inside their speech ranges at the same time.
func (g *Gate) Voiced(rms, zcr, centroid float64) bool {
	if rms < g.cfg.MinRMS {
		return false
	}
	if zcr < g.cfg.MinZCR || zcr > g.cfg.MaxZCR {
		return false
	}
	return centroid >= g.cfg.MinCentroid && centroid <= g.cfg.MaxCentroid
}
