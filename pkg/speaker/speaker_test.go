package speaker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeakerLabels(t *testing.T) {
	assert.Equal(t, 0, A.Index())
	assert.Equal(t, 1, B.Index())
	assert.Equal(t, -1, Silence.Index())
	assert.Equal(t, B, A.Other())
	assert.Equal(t, Undetermined, Undetermined.Other())

	for _, s := range []Speaker{Undetermined, A, B, Silence} {
		parsed, err := Parse(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := Parse("speaker_c")
	assert.Error(t, err)
}

func TestSpeakerJSON(t *testing.T) {
	b, err := json.Marshal(struct{ S Speaker }{B})
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":"speaker_b"}`, string(b))

	var out struct{ S Speaker }
	require.NoError(t, json.Unmarshal([]byte(`{"S":"a"}`), &out))
	assert.Equal(t, A, out.S)
}

func TestPair(t *testing.T) {
	var p Pair[int]
	p.Set(A, 3)
	p.Set(B, 5)
	p.Set(Silence, 9)
	assert.Equal(t, 3, p.Get(A))
	assert.Equal(t, 5, p.Get(B))
	assert.Equal(t, 0, p.Get(Undetermined))
}

func TestDecide(t *testing.T) {
	v := Decide(Pair[float64]{0.2, 0.6}, "test")
	assert.Equal(t, B, v.Speaker)
	assert.InDelta(t, 0.75, v.Confidence, 1e-9)

	v = Decide(Pair[float64]{0, 0}, "empty")
	assert.Equal(t, Undetermined, v.Speaker)
	assert.Zero(t, v.Confidence)
}

func TestProfileRecalibration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := DefaultRecalibrationPolicy()

	p := &Profile{IsComplete: true, Quality: 0.8, UpdatedAt: now.Add(-time.Hour)}
	assert.False(t, p.NeedsRecalibration(now, policy))
	assert.True(t, p.Authoritative(now, policy))

	p.UpdatedAt = now.Add(-8 * 24 * time.Hour)
	assert.True(t, p.NeedsRecalibration(now, policy))
	assert.False(t, p.Authoritative(now, policy))

	p.UpdatedAt = now
	p.Quality = 0.3
	assert.True(t, p.NeedsRecalibration(now, policy))

	incomplete := &Profile{Quality: 0.9, UpdatedAt: now}
	assert.False(t, incomplete.Authoritative(now, policy))

	var missing *Profile
	assert.False(t, missing.Usable())
	assert.Nil(t, missing.Clone())
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(2))
	assert.Equal(t, 0.4, Clamp01(0.4))
}
