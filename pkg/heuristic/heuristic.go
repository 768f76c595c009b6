// Package heuristic implements the cheapest ensemble vote: nearest
// per-speaker baseline over pitch and energy.
package heuristic

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Config struct {
	// Alpha is the EMA rate for baseline updates.
	Alpha float64

	// MinFrames is the number of labeled frames before a baseline is trusted.
	MinFrames int

	// SeedConfidence is the label confidence required while a baseline has
	// fewer than MinFrames frames. It sits below UnstableCap so unstable
	// votes can still grow a baseline.
	SeedConfidence float64

	// LearnConfidence is the detection confidence required to update a
	// baseline once it has stabilized.
	LearnConfidence float64

	PitchWeight  float64
	EnergyWeight float64

	// Sharpness maps relative distance to similarity: exp(-Sharpness*d).
	Sharpness float64

	// UnstableCap bounds confidence while the predicted baseline is unstable.
	UnstableCap float64
}

func DefaultConfig() Config {
	return Config{
		Alpha:           0.2,
		MinFrames:       5,
		SeedConfidence:  0.4,
		LearnConfidence: 0.8,
		PitchWeight:     0.75,
		EnergyWeight:    0.25,
		Sharpness:       4,
		UnstableCap:     0.45,
	}
}

// Baseline is the running acoustic centre of one speaker.
type Baseline struct {
	Pitch  float64
	Energy float64
	Frames int
	Seeded bool
}

func (b Baseline) known() bool {
	return b.Frames > 0
}

// Estimator classifies frames by their distance to each speaker's baseline.
type Estimator struct {
	cfg Config

	mu        sync.RWMutex
	baselines speaker.Pair[Baseline]
	profiles  speaker.Pair[*speaker.Profile]
}

func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

func (e *Estimator) Name() string {
	return "heuristic"
}

// Baselines returns a copy of the current baselines.
func (e *Estimator) Baselines() speaker.Pair[Baseline] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baselines
}

func (e *Estimator) distance(b Baseline, pitch, energy float64) float64 {
	d := 0.0
	if b.Pitch > 0 {
		d += e.cfg.PitchWeight * math.Abs(pitch-b.Pitch) / b.Pitch
	}
	if b.Energy > 0 {
		d += e.cfg.EnergyWeight * math.Abs(energy-b.Energy) / b.Energy
	}
	return d
}

func (e *Estimator) Estimate(ctx context.Context, in speaker.Input) (speaker.Vote, error) {
	if err := ctx.Err(); err != nil {
		return speaker.Vote{}, err
	}
	fv := in.Features
	if fv == nil || !fv.HasPitch() {
		return speaker.Abstain("no pitch in frame"), nil
	}

	e.mu.RLock()
	bases := e.baselines
	e.mu.RUnlock()

	a, b := bases.Get(speaker.A), bases.Get(speaker.B)
	switch {
	case !a.known() && !b.known():
		// cold start: the first voice heard becomes speaker A
		return speaker.Vote{
			Speaker:    speaker.A,
			Confidence: 0.5,
			Scores:     speaker.Pair[float64]{0.5, 0},
			Reasoning:  "no baselines yet, first voice assigned to speaker A",
		}, nil

	case a.known() != b.known():
		known := speaker.A
		if b.known() {
			known = speaker.B
		}
		base := bases.Get(known)
		sim := math.Exp(-e.cfg.Sharpness * e.distance(base, fv.Pitch, fv.Energy))
		var scores speaker.Pair[float64]
		scores.Set(known, sim)
		scores.Set(known.Other(), 1-sim)
		vote := speaker.Decide(scores, fmt.Sprintf("only %s baseline known, similarity %.2f", known, sim))
		vote.Confidence = e.cap(bases.Get(vote.Speaker), vote.Confidence*0.8)
		return vote, nil
	}

	var scores speaker.Pair[float64]
	for _, s := range speaker.Parties {
		scores.Set(s, math.Exp(-e.cfg.Sharpness*e.distance(bases.Get(s), fv.Pitch, fv.Energy)))
	}
	vote := speaker.Decide(scores, "")
	closeness := scores.Get(vote.Speaker)
	vote.Confidence = e.cap(bases.Get(vote.Speaker), vote.Confidence*closeness)
	vote.Reasoning = fmt.Sprintf("pitch %.0f Hz nearest %s baseline %.0f Hz", fv.Pitch, vote.Speaker, bases.Get(vote.Speaker).Pitch)
	return vote, nil
}

func (e *Estimator) cap(b Baseline, conf float64) float64 {
	if !b.Seeded && b.Frames < e.cfg.MinFrames {
		conf = math.Min(conf, e.cfg.UnstableCap)
	}
	return speaker.Clamp01(conf)
}

// Observe folds a labeled frame into the speaker's baseline. A baseline
// with fewer than MinFrames frames accepts labels at SeedConfidence or
// above, a stable one only at LearnConfidence. Corrective feedback arrives
// with confidence 1 and always counts.
func (e *Estimator) Observe(in speaker.Input, label speaker.Speaker, confidence float64) {
	fv := in.Features
	if !label.IsParty() || fv == nil || !fv.HasPitch() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.baselines.Get(label)
	required := e.cfg.SeedConfidence
	if b.Frames >= e.cfg.MinFrames {
		required = e.cfg.LearnConfidence
	}
	if confidence < required {
		return
	}
	if !b.known() {
		b.Pitch, b.Energy = fv.Pitch, fv.Energy
	} else {
		b.Pitch += e.cfg.Alpha * (fv.Pitch - b.Pitch)
		b.Energy += e.cfg.Alpha * (fv.Energy - b.Energy)
	}
	b.Frames++
	e.baselines.Set(label, b)
}

// SetProfiles seeds baselines from usable enrollment profiles.
func (e *Estimator) SetProfiles(profiles speaker.Pair[*speaker.Profile]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = profiles
	e.seed()
}

func (e *Estimator) seed() {
	for _, s := range speaker.Parties {
		p := e.profiles.Get(s)
		if !p.Usable() || p.PitchMean <= 0 {
			continue
		}
		b := e.baselines.Get(s)
		b.Pitch, b.Energy = p.PitchMean, p.EnergyMean
		if b.Frames < e.cfg.MinFrames {
			b.Frames = e.cfg.MinFrames
		}
		b.Seeded = true
		e.baselines.Set(s, b)
	}
}

// Reset forgets learned baselines, keeping profile seeds.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baselines = speaker.Pair[Baseline]{}
	e.seed()
}
