package diarization

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

func detectAndCorrect(t *testing.T, e *Engine, at time.Time, actual speaker.Speaker) DetectionResult {
	t.Helper()
	frame := voiceA(300*time.Millisecond, at)
	res, err := e.Detect(context.Background(), frame, "")
	require.NoError(t, err)
	require.NoError(t, e.ProvideFeedback(context.Background(), frame, res.Speaker, actual, ""))
	return res
}

func TestOutcomeWindow(t *testing.T) {
	w := newOutcomeWindow(4)
	assert.Zero(t, w.accuracy())

	w.add(true)
	w.add(false)
	assert.Equal(t, 2, w.len())
	assert.InDelta(t, 0.5, w.accuracy(), 1e-12)

	for i := 0; i < 4; i++ {
		w.add(true)
	}
	assert.Equal(t, 4, w.len())
	assert.InDelta(t, 1.0, w.accuracy(), 1e-12)
}

func TestFeedback_WeightsConverge(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.9)
	m.embedding.set(speaker.B, 0.9)

	at := base
	for i := 0; i < 20; i++ {
		detectAndCorrect(t, e, at, speaker.A)
		at = at.Add(2 * time.Second)
	}

	w := e.Weights()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.Greater(t, w[MethodHeuristic], w[MethodEmbedding])
	assert.LessOrEqual(t, w[MethodEmbedding], 0.1)
	assert.False(t, e.Enabled(MethodEmbedding))
	assert.True(t, e.Enabled(MethodHeuristic))

	st := e.Stats()
	assert.Equal(t, 20, st.Methods[MethodEmbedding].Observations)
	assert.Zero(t, st.Methods[MethodEmbedding].Accuracy)
	assert.InDelta(t, 1.0, st.Methods[MethodHeuristic].Accuracy, 1e-12)
	// the pattern method abstained throughout and has no record
	assert.Zero(t, st.Methods[MethodPattern].Observations)

	res, err := e.Detect(context.Background(), voiceA(300*time.Millisecond, at), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.A, res.Speaker)
	c, _ := res.Contribution(MethodEmbedding)
	assert.Equal(t, StatusDisabled, c.Status)
	at = at.Add(2 * time.Second)

	// shadow evaluation keeps scoring the disabled method until it recovers
	m.embedding.set(speaker.A, 0.9)
	for i := 0; i < 12; i++ {
		detectAndCorrect(t, e, at, speaker.A)
		at = at.Add(2 * time.Second)
	}
	assert.True(t, e.Enabled(MethodEmbedding))
	assert.Greater(t, e.Stats().Methods[MethodEmbedding].Accuracy, 0.5)
}

func TestFeedback_WeightsStayNormalized(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	rng := rand.New(rand.NewPCG(3, 5))
	parties := []speaker.Speaker{speaker.A, speaker.B}

	at := base
	for i := 0; i < 60; i++ {
		for _, mk := range []*MockEstimator{m.heuristic, m.embedding, m.pattern} {
			mk.set(parties[rng.IntN(2)], 0.3+0.7*rng.Float64())
		}
		detectAndCorrect(t, e, at, parties[rng.IntN(2)])
		at = at.Add(time.Second)

		w := e.Weights()
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
		for _, v := range w {
			assert.GreaterOrEqual(t, v, e.Config().WeightFloor-1e-12)
		}
		enabled := 0
		for i := Method(0); i < NumMethods; i++ {
			if e.Enabled(i) {
				enabled++
			}
		}
		assert.Positive(t, enabled)
	}
}

func TestFeedback_InvalidInput(t *testing.T) {
	e, _ := newMockEngine(DefaultConfig())
	frame := voiceA(300*time.Millisecond, base)

	assert.ErrorIs(t, e.ProvideFeedback(context.Background(), frame, speaker.A, speaker.Undetermined, ""), ErrInvalidLabel)
	assert.ErrorIs(t, e.ProvideFeedback(context.Background(), frame, speaker.A, speaker.Silence, ""), ErrInvalidLabel)

	err := e.ProvideFeedback(context.Background(), silence(300*time.Millisecond, base), speaker.A, speaker.B, "")
	assert.ErrorIs(t, err, features.ErrNoVoice)
	assert.Zero(t, e.Stats().Feedback)
}

func TestFeedback_WithoutCachedDetection(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.9)
	m.embedding.set(speaker.B, 0.8)

	frame := voiceA(300*time.Millisecond, base)
	require.NoError(t, e.ProvideFeedback(context.Background(), frame, speaker.A, speaker.A, ""))

	st := e.Stats()
	assert.Equal(t, 1, st.Feedback)
	assert.Zero(t, st.Corrections)
	assert.Zero(t, st.Detections)
	assert.Equal(t, 1, st.Methods[MethodHeuristic].Observations)
	assert.InDelta(t, 1.0, st.Methods[MethodHeuristic].Accuracy, 1e-12)
	assert.Equal(t, 1, st.Methods[MethodEmbedding].Observations)
	assert.Zero(t, st.Methods[MethodEmbedding].Accuracy)
	assert.Greater(t, st.Methods[MethodHeuristic].Weight, DefaultWeights()[MethodHeuristic])
	assert.Less(t, st.Methods[MethodEmbedding].Weight, DefaultWeights()[MethodEmbedding])
}

func TestFeedback_RoutesToLearners(t *testing.T) {
	learner := &MockLearner{MockEstimator: newMock("pattern", speaker.Undetermined, 0)}
	e, m := newMockEngine(DefaultConfig(), WithEstimator(MethodPattern, learner))
	m.heuristic.set(speaker.A, 0.9)

	frame := voiceA(300*time.Millisecond, base)
	res, err := e.Detect(context.Background(), frame, "")
	require.NoError(t, err)
	require.Equal(t, speaker.A, res.Speaker)

	require.NoError(t, e.ProvideFeedback(context.Background(), frame, res.Speaker, speaker.B, ""))

	assert.Equal(t, []speaker.Speaker{speaker.A, speaker.B}, m.heuristic.observations())
	assert.Equal(t, []speaker.Speaker{speaker.A}, learner.observations())
	learner.mu.Lock()
	assert.Equal(t, []speaker.Speaker{speaker.B}, learner.learned)
	learner.mu.Unlock()

	// the corrected frame's turn is relabeled
	turns := e.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, speaker.B, turns[0].Speaker)
	assert.Equal(t, 1, e.Stats().Corrections)
}
