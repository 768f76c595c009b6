package speaker

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
)

// Turn is a contiguous run of detections attributed to one participant.
type Turn struct {
	Speaker Speaker
	Start   time.Time
	End     time.Time
}

// Input is everything an estimator may look at for one gated frame.
type Input struct {
	Features *features.Vector

	// Context is free text describing what is being said, when available.
	Context string

	At time.Time

	// Turns is the recent turn history, oldest first.
	Turns []Turn

	// SinceLast is the gap since the previous voiced detection. Zero on the
	// first frame of a conversation.
	SinceLast time.Duration
}

// LastTurn returns the most recent turn, if any.
func (in Input) LastTurn() (Turn, bool) {
	if len(in.Turns) == 0 {
		return Turn{}, false
	}
	return in.Turns[len(in.Turns)-1], true
}

// Vote is one estimator's opinion about a frame.
type Vote struct {
	Speaker    Speaker
	Confidence float64
	Scores     Pair[float64]
	Reasoning  string

	// Contributors identifies internal evidence (e.g. stored patterns) that
	// produced the vote, so feedback can be routed back to it.
	Contributors []string
}

// Abstain builds a vote that expresses no opinion.
func Abstain(reason string) Vote {
	return Vote{Speaker: Undetermined, Reasoning: reason}
}

// Decide picks the higher scoring participant from non-negative scores and
// reports its share of the total as confidence.
func Decide(scores Pair[float64], reasoning string) Vote {
	total := scores[0] + scores[1]
	if total <= 0 {
		return Vote{Speaker: Undetermined, Scores: scores, Reasoning: reasoning}
	}
	winner := A
	if scores[1] > scores[0] {
		winner = B
	}
	conf := scores.Get(winner) / total
	return Vote{
		Speaker:    winner,
		Confidence: Clamp01(conf),
		Scores:     scores,
		Reasoning:  reasoning,
	}
}

// Estimator is one independent opinion source in the ensemble.
//
// Estimate must not mutate learned state; it may be abandoned by the caller
// once its deadline passes. Observe is called by the fusion engine after a
// decision is made and is the only path that updates learned state.
type Estimator interface {
	Name() string
	Estimate(ctx context.Context, in Input) (Vote, error)
	Observe(in Input, label Speaker, confidence float64)
	SetProfiles(profiles Pair[*Profile])
	Reset()
}

// FeedbackLearner is implemented by estimators that learn from corrections
// beyond the plain Observe path.
type FeedbackLearner interface {
	Learn(in Input, vote Vote, actual Speaker)
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
