package pattern

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Config struct {
	CapacityPerSpeaker  int
	TopK                int
	SimilarityThreshold float64

	// StoreConfidence is the detection confidence at which a frame is
	// remembered without any feedback.
	StoreConfidence float64

	// SuccessAlpha is the rate of the exponential success-rate update.
	SuccessAlpha float64

	// TurnGap is the pause that marks a turn boundary.
	TurnGap            time.Duration
	AlternationBonus   float64
	RepetitionPenalty  float64
	ConsistencyBonus   float64
	InitialSuccessRate float64
	Blocks             BlockWeights
	Eviction           EvictionPolicy
}

func DefaultConfig() Config {
	return Config{
		CapacityPerSpeaker:  200,
		TopK:                7,
		SimilarityThreshold: 0.6,
		StoreConfidence:     0.85,
		SuccessAlpha:        0.2,
		TurnGap:             700 * time.Millisecond,
		AlternationBonus:    0.1,
		RepetitionPenalty:   0.05,
		ConsistencyBonus:    0.1,
		InitialSuccessRate:  0.5,
		Blocks:              DefaultBlockWeights(),
		Eviction:            DefaultEvictionPolicy(),
	}
}

// Estimator predicts the speaker from the most similar remembered frames.
type Estimator struct {
	cfg     Config
	encoder *Encoder
	clock   func() time.Time

	mu    sync.RWMutex
	arena *Arena
}

func New(cfg Config) *Estimator {
	return &Estimator{
		cfg:     cfg,
		encoder: NewEncoder(cfg.Blocks),
		clock:   time.Now,
		arena:   NewArena(cfg.CapacityPerSpeaker, cfg.Eviction),
	}
}

// SetClock overrides the time source used when the input carries no time.
func (e *Estimator) SetClock(clock func() time.Time) {
	e.clock = clock
}

func (e *Estimator) Name() string {
	return "pattern"
}

func (e *Estimator) now(in speaker.Input) time.Time {
	if !in.At.IsZero() {
		return in.At
	}
	return e.clock()
}

// Len returns how many patterns are stored for a speaker.
func (e *Estimator) Len(s speaker.Speaker) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.arena.Len(s)
}

// Pattern returns a copy of a stored pattern.
func (e *Estimator) Pattern(id string) (Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.arena.Get(id)
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

func (e *Estimator) Estimate(ctx context.Context, in speaker.Input) (speaker.Vote, error) {
	if err := ctx.Err(); err != nil {
		return speaker.Vote{}, err
	}
	if in.Features == nil {
		return speaker.Abstain("no features"), nil
	}

	query := e.encoder.Encode(in)
	now := e.now(in)

	var (
		scores       speaker.Pair[float64]
		contributors []string
	)

	e.mu.RLock()
	matches := e.arena.Search(query, e.cfg.TopK, e.cfg.SimilarityThreshold)
	for _, m := range matches {
		p := m.Pattern
		textFactor := 1.0
		if in.Context != "" && p.Context != "" {
			textFactor = 0.7 + 0.3*Jaccard(in.Context, p.Context)
		}
		w := m.Similarity *
			Recency(p, now, e.cfg.Eviction.HalfLife) *
			(0.5 + 0.5*p.SuccessRate) *
			textFactor
		scores.Set(p.Speaker, scores.Get(p.Speaker)+w)
		contributors = append(contributors, p.ID)
	}
	e.mu.RUnlock()

	if len(matches) == 0 {
		return speaker.Abstain("no similar patterns"), nil
	}

	// normalize to a distribution before the turn adjustments
	total := scores[0] + scores[1]
	if total <= 0 {
		return speaker.Abstain("similar patterns carry no weight"), nil
	}
	for i := range scores {
		scores[i] /= total
	}

	note := ""
	if last, ok := in.LastTurn(); ok && last.Speaker.IsParty() {
		if in.SinceLast >= e.cfg.TurnGap {
			scores.Set(last.Speaker.Other(), scores.Get(last.Speaker.Other())+e.cfg.AlternationBonus)
			scores.Set(last.Speaker, math.Max(0, scores.Get(last.Speaker)-e.cfg.RepetitionPenalty))
			note = ", turn boundary favours alternation"
		} else {
			scores.Set(last.Speaker, scores.Get(last.Speaker)+e.cfg.ConsistencyBonus)
			note = ", within-turn consistency"
		}
	}

	vote := speaker.Decide(scores, fmt.Sprintf("%d similar patterns%s", len(matches), note))
	vote.Contributors = contributors
	return vote, nil
}

func (e *Estimator) newPattern(in speaker.Input, label speaker.Speaker, confidence float64) *Pattern {
	now := e.now(in)
	return &Pattern{
		ID:          uuid.NewString(),
		Embedding:   e.encoder.Encode(in),
		Speaker:     label,
		Context:     in.Context,
		Confidence:  confidence,
		SuccessRate: e.cfg.InitialSuccessRate,
		CreatedAt:   now,
		LastUsed:    now,
	}
}

// Observe bumps usage of the patterns that agree with the decided label
// and stores the frame when the detection was confident enough.
func (e *Estimator) Observe(in speaker.Input, label speaker.Speaker, confidence float64) {
	if !label.IsParty() || in.Features == nil {
		return
	}
	query := e.encoder.Encode(in)
	now := e.now(in)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range e.arena.Search(query, e.cfg.TopK, e.cfg.SimilarityThreshold) {
		if m.Pattern.Speaker == label {
			m.Pattern.UsageCount++
			m.Pattern.LastUsed = now
		}
	}
	if confidence >= e.cfg.StoreConfidence {
		e.arena.Add(e.newPattern(in, label, confidence), now)
	}
}

// Learn applies corrective feedback. Patterns that backed the actual speaker
// move their success rate up, the others down. A wrong prediction also
// remembers the frame under the actual speaker.
func (e *Estimator) Learn(in speaker.Input, vote speaker.Vote, actual speaker.Speaker) {
	if !actual.IsParty() {
		return
	}
	now := e.now(in)
	a := e.cfg.SuccessAlpha

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range vote.Contributors {
		p, ok := e.arena.Get(id)
		if !ok {
			continue
		}
		if p.Speaker == actual {
			p.SuccessRate += a * (1 - p.SuccessRate)
			p.UsageCount++
			p.LastUsed = now
		} else {
			p.SuccessRate *= 1 - a
		}
	}

	if vote.Speaker != actual && in.Features != nil {
		e.arena.Add(e.newPattern(in, actual, 1), now)
	}
}

// SetProfiles is a no-op; pattern memory is built from the conversation.
func (e *Estimator) SetProfiles(speaker.Pair[*speaker.Profile]) {}

func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arena.Clear()
}
