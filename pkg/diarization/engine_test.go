package diarization

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

func TestWeights_Normalized(t *testing.T) {
	w := Weights{0.9, -0.2, 0.3}.Normalized(0.05)
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	for _, v := range w {
		assert.Greater(t, v, 0.0)
	}
	assert.InDelta(t, 1.0/3, Weights{}.Normalized(0)[0], 1e-12)

	// a floored weight stays exactly at the floor after rescaling
	w = Weights{0.9, -0.2, 0.3}.Normalized(0.05)
	assert.InDelta(t, 0.05, w[1], 1e-12)
	assert.InDelta(t, 0.7125, w[0], 1e-12)
	assert.InDelta(t, 0.2375, w[2], 1e-12)

	w = Weights{1, 0.01, 0.001}.Normalized(0.1)
	assert.InDelta(t, 0.8, w[0], 1e-12)
	assert.InDelta(t, 0.1, w[1], 1e-12)
	assert.InDelta(t, 0.1, w[2], 1e-12)

	assert.Equal(t, Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}, Weights{1, 0, 0}.Normalized(0.4))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("pattern")
	require.NoError(t, err)
	assert.Equal(t, MethodPattern, m)
	assert.Equal(t, "embedding", MethodEmbedding.String())

	_, err = ParseMethod("oracle")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestDetect_SilenceFrame(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.9)

	res, err := e.Detect(context.Background(), silence(500*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.Undetermined, res.Speaker)
	assert.Zero(t, res.Confidence)
	assert.False(t, res.Voiced)
	assert.Empty(t, res.Contributions)
	assert.Zero(t, m.heuristic.estimates)
	assert.Equal(t, 1, e.Stats().Undetermined)
}

func TestDetect_InvalidInput(t *testing.T) {
	e, _ := newMockEngine(DefaultConfig())

	_, err := e.Detect(context.Background(), audio.Frame{SampleRate: testRate}, "")
	assert.ErrorIs(t, err, ErrInvalidFrame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Detect(ctx, voiceA(300*time.Millisecond, base), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetect_ColdStartAssignsFirstVoiceToA(t *testing.T) {
	e := New(DefaultConfig())

	res, err := e.Detect(context.Background(), voiceA(500*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.A, res.Speaker, res.Reasoning)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.True(t, res.Voiced)
	require.NotNil(t, res.Features)

	c, ok := res.Contribution(MethodEmbedding)
	require.True(t, ok)
	assert.Equal(t, StatusAbstain, c.Status)
	c, _ = res.Contribution(MethodPattern)
	assert.Equal(t, StatusAbstain, c.Status)
	assert.Equal(t, StateDetecting, e.State())
}

func TestDetect_EstimatorTimeout(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.8)
	m.embedding.set(speaker.B, 0.99)
	m.embedding.delay = time.Second
	m.embedding.honorCtx = false

	start := time.Now()
	res, err := e.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 600*time.Millisecond)

	assert.Equal(t, speaker.A, res.Speaker)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	c, _ := res.Contribution(MethodEmbedding)
	assert.Equal(t, StatusTimeout, c.Status)
	assert.Equal(t, speaker.Undetermined, c.Speaker)
}

func TestDetect_FailedEstimatorIsExcluded(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.B, 0.7)
	m.pattern.err = errors.New("index corrupted")

	res, err := e.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.B, res.Speaker)
	c, _ := res.Contribution(MethodPattern)
	assert.Equal(t, StatusFailed, c.Status)
}

func TestDetect_NoConsensus(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())

	// equal weights and confidences on opposite sides tie
	m.heuristic.set(speaker.A, 0.6)
	m.pattern.set(speaker.B, 0.6)
	res, err := e.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.Undetermined, res.Speaker)
	assert.Zero(t, res.Confidence)
	assert.Contains(t, res.Reasoning, "no consensus")

	// a lone weak vote stays below the ensemble threshold
	e2, m2 := newMockEngine(DefaultConfig())
	m2.heuristic.set(speaker.A, 0.25)
	res, err = e2.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.Undetermined, res.Speaker)
	assert.Zero(t, res.Confidence)

	// nobody votes
	e3, _ := newMockEngine(DefaultConfig())
	res, err = e3.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	assert.Equal(t, speaker.Undetermined, res.Speaker)
	assert.Contains(t, res.Reasoning, "no estimator")
}

func TestDetect_WeightedFusion(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.9)
	m.embedding.set(speaker.A, 0.6)
	m.pattern.set(speaker.B, 0.5)

	res, err := e.Detect(context.Background(), voiceA(300*time.Millisecond, base), "")
	require.NoError(t, err)
	// (0.3*0.9 + 0.4*0.6) / 1.0
	assert.Equal(t, speaker.A, res.Speaker)
	assert.InDelta(t, 0.51, res.Confidence, 1e-9)
	assert.Len(t, res.Contributions, int(NumMethods))
	for _, obs := range [][]speaker.Speaker{m.heuristic.observations(), m.embedding.observations(), m.pattern.observations()} {
		assert.Equal(t, []speaker.Speaker{speaker.A}, obs)
	}
}

func TestDetect_TurnTracking(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	ctx := context.Background()
	d := 300 * time.Millisecond

	m.heuristic.set(speaker.A, 0.8)
	_, err := e.Detect(ctx, voiceA(d, base), "")
	require.NoError(t, err)
	res, err := e.Detect(ctx, voiceA(d, base.Add(d)), "")
	require.NoError(t, err)
	// within the turn the previous speaker gets the recency bonus
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	require.Len(t, e.Turns(), 1)
	assert.Equal(t, base.Add(2*d), e.Turns()[0].End)

	m.heuristic.set(speaker.B, 0.8)
	res, err = e.Detect(ctx, voiceB(d, base.Add(3*time.Second)), "")
	require.NoError(t, err)
	// after a pause the other speaker gets the turn bonus
	assert.Equal(t, speaker.B, res.Speaker)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)

	turns := e.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, speaker.A, turns[0].Speaker)
	assert.Equal(t, speaker.B, turns[1].Speaker)
}

func TestConfidenceAndSpeakerRange(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	rng := rand.New(rand.NewPCG(1, 2))
	labels := []speaker.Speaker{speaker.A, speaker.B, speaker.Undetermined, speaker.Silence}
	for i := 0; i < 30; i++ {
		for _, mk := range []*MockEstimator{m.heuristic, m.embedding, m.pattern} {
			mk.set(labels[rng.IntN(len(labels))], rng.Float64()*1.2)
		}
		res, err := e.Detect(context.Background(), voiceA(200*time.Millisecond, base.Add(time.Duration(i)*time.Second)), "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
		assert.Contains(t, []speaker.Speaker{speaker.A, speaker.B, speaker.Undetermined, speaker.Silence}, res.Speaker)
		if res.Speaker == speaker.Undetermined {
			assert.Zero(t, res.Confidence)
		}
	}
}

func TestStateAndReset(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	assert.Equal(t, StateIdle, e.State())

	m.heuristic.set(speaker.A, 0.9)
	frame := voiceA(300*time.Millisecond, base)
	_, err := e.Detect(context.Background(), frame, "")
	require.NoError(t, err)
	assert.Equal(t, StateDetecting, e.State())

	require.NoError(t, e.ProvideFeedback(context.Background(), frame, speaker.A, speaker.B, ""))
	assert.Equal(t, StateFeedbackApplied, e.State())
	st := e.Stats()
	assert.Equal(t, 1, st.Detections)
	assert.Equal(t, 1, st.Feedback)
	assert.Equal(t, 1, st.Corrections)
	assert.Equal(t, 1, st.Methods[MethodHeuristic].Observations)
	assert.Zero(t, st.Methods[MethodHeuristic].Accuracy)

	e.Reset()
	assert.Equal(t, StateIdle, e.State())
	dw, ew := DefaultWeights(), e.Weights()
	assert.InDeltaSlice(t, dw[:], ew[:], 1e-12)
	assert.Empty(t, e.Turns())
	assert.Zero(t, e.Stats().Detections)
	assert.Equal(t, 1, m.pattern.resets)
}

func TestDetect_ExpiredContextCommitsNothing(t *testing.T) {
	e, m := newMockEngine(DefaultConfig())
	m.heuristic.set(speaker.A, 0.9)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := e.Detect(ctx, voiceA(300*time.Millisecond, base), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, e.Turns())
	assert.Empty(t, m.heuristic.observations())
}
