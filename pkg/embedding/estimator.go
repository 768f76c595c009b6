package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Config struct {
	// Alpha is the EMA rate for learned speaker embeddings.
	Alpha float64

	// LearnConfidence is the detection confidence needed to update a
	// learned embedding.
	LearnConfidence float64

	// MinConfidence below which the vote is undetermined.
	MinConfidence float64

	// WarmupFrames is how many updates a learned embedding needs before it
	// counts at full weight.
	WarmupFrames int

	// Sharpness scales the score gap before the logistic squash.
	Sharpness float64

	HistorySize     int
	SmoothingWindow int
	SmoothingBlend  float64

	Biometrics BiometricWeights

	// ProfileWeight is the weight of enrolled biometrics relative to a fully
	// warmed learned embedding.
	ProfileWeight float64

	Policy speaker.RecalibrationPolicy
}

func DefaultConfig() Config {
	return Config{
		Alpha:           0.1,
		LearnConfidence: 0.6,
		MinConfidence:   0.2,
		WarmupFrames:    3,
		Sharpness:       10,
		HistorySize:     16,
		SmoothingWindow: 5,
		SmoothingBlend:  0.3,
		Biometrics:      DefaultBiometricWeights(),
		ProfileWeight:   1.5,
		Policy:          speaker.DefaultRecalibrationPolicy(),
	}
}

// Embedding is one accepted frame's embedding with the label it received.
type Embedding struct {
	Vector     []float32
	Speaker    speaker.Speaker
	Confidence float64
	At         time.Time
}

// Estimator compares frame embeddings with learned per-speaker embeddings
// and enrolled profiles.
type Estimator struct {
	cfg   Config
	model Model
	clock func() time.Time

	mu       sync.RWMutex
	learned  speaker.Pair[[]float32]
	updates  speaker.Pair[int]
	profiles speaker.Pair[*speaker.Profile]
	smoother *Smoother
	history  []Embedding
}

// New creates an estimator. A nil model falls back to a ProjectionModel
// with seed 0.
func New(cfg Config, model Model) *Estimator {
	if model == nil {
		model = NewProjectionModel(DefaultDimension, 0)
	}
	return &Estimator{
		cfg:      cfg,
		model:    model,
		clock:    time.Now,
		smoother: NewSmoother(WithWindow(cfg.SmoothingWindow), WithBlend(cfg.SmoothingBlend)),
	}
}

// SetClock overrides the time source used for recalibration checks.
func (e *Estimator) SetClock(clock func() time.Time) {
	e.clock = clock
}

func (e *Estimator) Name() string {
	return "embedding"
}

// Model returns the embedding model in use.
func (e *Estimator) Model() Model {
	return e.model
}

type evidence struct {
	sum, weight float64
	parts       []string
}

func (ev *evidence) add(name string, sim, weight float64) {
	if weight <= 0 {
		return
	}
	ev.sum += weight * speaker.Clamp01(sim)
	ev.weight += weight
	ev.parts = append(ev.parts, fmt.Sprintf("%s=%.2f", name, sim))
}

func (ev evidence) score() float64 {
	if ev.weight == 0 {
		return 0
	}
	return ev.sum / ev.weight
}

func (e *Estimator) Estimate(ctx context.Context, in speaker.Input) (speaker.Vote, error) {
	if err := ctx.Err(); err != nil {
		return speaker.Vote{}, err
	}
	if in.Features == nil {
		return speaker.Abstain("no features"), nil
	}

	emb, err := e.model.Embed(in.Features)
	if err != nil {
		return speaker.Vote{}, fmt.Errorf("embed: %w", err)
	}

	e.mu.RLock()
	learned, updates, profiles := e.learned, e.updates, e.profiles
	smoothed := e.smoother.Clone()
	e.mu.RUnlock()

	now := e.clock()
	var ev speaker.Pair[evidence]
	for i, s := range speaker.Parties {
		if ref := learned.Get(s); ref != nil {
			w := math.Min(1, float64(updates.Get(s))/float64(max(e.cfg.WarmupFrames, 1)))
			ev[i].add("learned", Cosine(emb, ref), w)
		}
		p := profiles.Get(s)
		if !p.Usable() {
			continue
		}
		if bio, ok := ProfileScore(in.Features, emb, p, e.cfg.Biometrics); ok {
			trust := e.cfg.ProfileWeight
			if p.NeedsRecalibration(now, e.cfg.Policy) {
				trust *= 0.5
			}
			ev[i].add("profile", bio, trust)
		}
	}

	if ev[0].weight == 0 || ev[1].weight == 0 {
		return speaker.Abstain("no reference embedding for both speakers"), nil
	}

	gap := ev[0].score() - ev[1].score()
	pA := 1 / (1 + math.Exp(-e.cfg.Sharpness*gap))
	probs := smoothed.Apply(speaker.Pair[float64]{pA, 1 - pA})

	winner := speaker.A
	if probs[1] > probs[0] {
		winner = speaker.B
	}
	conf := speaker.Clamp01(2*probs.Get(winner) - 1)
	reason := fmt.Sprintf("A[%v] B[%v]", ev[0].parts, ev[1].parts)

	if conf < e.cfg.MinConfidence {
		return speaker.Vote{
			Speaker:    speaker.Undetermined,
			Confidence: conf,
			Scores:     probs,
			Reasoning:  "embedding margin too small: " + reason,
		}, nil
	}
	return speaker.Vote{
		Speaker:    winner,
		Confidence: conf,
		Scores:     probs,
		Reasoning:  reason,
	}, nil
}

// Observe records a decided frame: the smoothing window and history always,
// the learned embedding only for confident labels.
func (e *Estimator) Observe(in speaker.Input, label speaker.Speaker, confidence float64) {
	if !label.IsParty() || in.Features == nil {
		return
	}
	emb, err := e.model.Embed(in.Features)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.smoother.Push(label)
	e.history = append(e.history, Embedding{Vector: emb, Speaker: label, Confidence: confidence, At: in.At})
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		e.history = append([]Embedding(nil), e.history[over:]...)
	}

	if confidence < e.cfg.LearnConfidence {
		return
	}
	prev := e.learned.Get(label)
	next := make([]float32, len(emb))
	if prev == nil {
		copy(next, emb)
	} else {
		a := float32(e.cfg.Alpha)
		for i := range next {
			next[i] = (1-a)*prev[i] + a*emb[i]
		}
		Normalize(next)
	}
	e.learned.Set(label, next)
	e.updates.Set(label, e.updates.Get(label)+1)
}

// Updates returns how many times each learned embedding was updated.
func (e *Estimator) Updates() speaker.Pair[int] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updates
}

// History returns a copy of the recent accepted embeddings, oldest first.
func (e *Estimator) History() []Embedding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Embedding(nil), e.history...)
}

func (e *Estimator) SetProfiles(profiles speaker.Pair[*speaker.Profile]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = profiles
}

func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.learned = speaker.Pair[[]float32]{}
	e.updates = speaker.Pair[int]{}
	e.history = nil
	e.smoother.Reset()
}
