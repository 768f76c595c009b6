package pattern

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

var base = time.Date(2026, 4, 7, 14, 0, 0, 0, time.UTC)

func low() *features.Vector {
	return &features.Vector{
		Pitch: 115, PitchVariance: 30, SpectralCentroid: 1100, SpectralRolloff: 2300, Energy: 0.12, ZeroCrossingRate: 0.03,
		Formants: [features.MaxFormants]float64{400, 1200, 2300, 3200},
	}
}

func high() *features.Vector {
	return &features.Vector{
		Pitch: 230, PitchVariance: 90, SpectralCentroid: 2300, SpectralRolloff: 4200, Energy: 0.07, ZeroCrossingRate: 0.08,
		Formants: [features.MaxFormants]float64{700, 2000, 3000, 4000},
	}
}

func input(v *features.Vector, text string, at time.Time) speaker.Input {
	return speaker.Input{Features: v, Context: text, At: at}
}

func TestEvictionScore(t *testing.T) {
	policy := DefaultEvictionPolicy()
	fresh := &Pattern{CreatedAt: base, SuccessRate: 0.5}
	old := &Pattern{CreatedAt: base.Add(-policy.HalfLife), SuccessRate: 0.5}
	good := &Pattern{CreatedAt: base.Add(-policy.HalfLife), SuccessRate: 1, UsageCount: 20}

	assert.InDelta(t, 0.4+0.2, EvictionScore(fresh, base, policy), 1e-9)
	assert.InDelta(t, 0.2+0.2, EvictionScore(old, base, policy), 1e-9)
	assert.Greater(t, EvictionScore(good, base, policy), EvictionScore(fresh, base, policy))

	// pure: same inputs, same score
	assert.Equal(t, EvictionScore(old, base, policy), EvictionScore(old, base, policy))
}

func TestArena_EvictsLowestScore(t *testing.T) {
	a := NewArena(2, DefaultEvictionPolicy())
	p1 := &Pattern{ID: "1", Speaker: speaker.A, CreatedAt: base.Add(-time.Hour), SuccessRate: 0.1}
	p2 := &Pattern{ID: "2", Speaker: speaker.A, CreatedAt: base, SuccessRate: 0.9}
	p3 := &Pattern{ID: "3", Speaker: speaker.A, CreatedAt: base, SuccessRate: 0.5}
	pb := &Pattern{ID: "b", Speaker: speaker.B, CreatedAt: base}

	assert.Nil(t, a.Add(p1, base))
	assert.Nil(t, a.Add(p2, base))
	assert.Nil(t, a.Add(pb, base))
	evicted := a.Add(p3, base)
	require.NotNil(t, evicted)
	assert.Equal(t, "1", evicted.ID)

	assert.Equal(t, 2, a.Len(speaker.A))
	assert.Equal(t, 1, a.Len(speaker.B))
	_, ok := a.Get("1")
	assert.False(t, ok)

	assert.Nil(t, a.Add(&Pattern{ID: "x", Speaker: speaker.Silence}, base))
}

func TestEncoder(t *testing.T) {
	enc := NewEncoder(DefaultBlockWeights())
	v := enc.Encode(input(low(), "hello there", base))
	assert.Len(t, v, enc.Dimension())

	same := enc.Encode(input(low(), "hello there", base))
	assert.InDelta(t, 1.0, cosine(v, same), 1e-9)

	other := enc.Encode(input(high(), "hello there", base))
	assert.Less(t, cosine(v, other), 0.6)
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("Hello, world", "world hello"), 1e-9)
	assert.InDelta(t, 1.0/3, Jaccard("a b", "b c"), 1e-9)
	assert.Zero(t, Jaccard("", "x"))
}

func TestEstimate_RetrievesSimilarSpeaker(t *testing.T) {
	e := New(DefaultConfig())

	v, err := e.Estimate(context.Background(), input(low(), "", base))
	require.NoError(t, err)
	assert.Equal(t, speaker.Undetermined, v.Speaker)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		e.Observe(input(low(), "", at), speaker.A, 0.9)
		e.Observe(input(high(), "", at), speaker.B, 0.9)
	}
	assert.Equal(t, 3, e.Len(speaker.A))
	assert.Equal(t, 3, e.Len(speaker.B))

	v, err = e.Estimate(context.Background(), input(high(), "", base.Add(5*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, speaker.B, v.Speaker)
	assert.Greater(t, v.Confidence, 0.8)
	assert.NotEmpty(t, v.Contributors)
}

func TestEstimate_TurnTaking(t *testing.T) {
	e := New(DefaultConfig())
	e.Observe(input(low(), "", base), speaker.A, 0.9)
	e.Observe(input(low(), "", base), speaker.B, 0.9)

	in := input(low(), "", base.Add(time.Second))
	in.Turns = []speaker.Turn{{Speaker: speaker.A, Start: base, End: base}}

	in.SinceLast = 2 * time.Second
	v, err := e.Estimate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, speaker.B, v.Speaker, v.Reasoning)

	in.SinceLast = 100 * time.Millisecond
	v, err = e.Estimate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, speaker.A, v.Speaker, v.Reasoning)
}

func TestLearn_WrongPrediction(t *testing.T) {
	e := New(DefaultConfig())
	e.Observe(input(low(), "", base), speaker.A, 0.95)

	in := input(low(), "", base.Add(time.Second))
	v, err := e.Estimate(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, speaker.A, v.Speaker)
	require.Len(t, v.Contributors, 1)

	e.Learn(in, v, speaker.B)

	p, ok := e.Pattern(v.Contributors[0])
	require.True(t, ok)
	assert.InDelta(t, 0.4, p.SuccessRate, 1e-9)
	assert.Equal(t, 1, e.Len(speaker.B))

	// a right prediction raises the contributor and stores nothing new
	v.Speaker = speaker.A
	e.Learn(in, v, speaker.A)
	p, _ = e.Pattern(v.Contributors[0])
	assert.InDelta(t, 0.52, p.SuccessRate, 1e-9)
	assert.Equal(t, 1, e.Len(speaker.A))
}

func TestCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityPerSpeaker = 5
	e := New(cfg)
	for i := 0; i < 12; i++ {
		e.Observe(input(low(), fmt.Sprintf("turn %d", i), base.Add(time.Duration(i)*time.Second)), speaker.A, 0.9)
	}
	assert.Equal(t, 5, e.Len(speaker.A))

	e.Reset()
	assert.Zero(t, e.Len(speaker.A))
}
