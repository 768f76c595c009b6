package diarization

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

const testRate = 16000

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// generateVoice synthesizes a harmonic tone with syllable-rate amplitude
// modulation.
func generateVoice(f0, tilt float64, d time.Duration, at time.Time) audio.Frame {
	n := int(d.Seconds() * testRate)
	samples := make([]float64, n)
	maxHarmonic := int(3800 / f0)
	for i := range samples {
		t := float64(i) / testRate
		env := 0.1 + 0.9*(0.5-0.5*math.Cos(2*math.Pi*3*t))
		s := 0.0
		for k := 1; k <= maxHarmonic; k++ {
			s += math.Sin(2*math.Pi*f0*float64(k)*t) / math.Pow(float64(k), tilt)
		}
		samples[i] = 0.12 * env * s
	}
	return audio.Frame{Samples: samples, SampleRate: testRate, Timestamp: at}
}

func voiceA(d time.Duration, at time.Time) audio.Frame { return generateVoice(120, 1, d, at) }
func voiceB(d time.Duration, at time.Time) audio.Frame { return generateVoice(220, 1.3, d, at) }

func silence(d time.Duration, at time.Time) audio.Frame {
	return audio.Frame{Samples: make([]float64, int(d.Seconds()*testRate)), SampleRate: testRate, Timestamp: at}
}

type MockEstimator struct {
	name string

	mu        sync.Mutex
	vote      speaker.Vote
	err       error
	delay     time.Duration
	honorCtx  bool
	observed  []speaker.Speaker
	profiles  speaker.Pair[*speaker.Profile]
	resets    int
	estimates int
}

func newMock(name string, s speaker.Speaker, conf float64) *MockEstimator {
	return &MockEstimator{name: name, vote: speaker.Vote{Speaker: s, Confidence: conf}, honorCtx: true}
}

func (m *MockEstimator) set(s speaker.Speaker, conf float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vote = speaker.Vote{Speaker: s, Confidence: conf}
}

func (m *MockEstimator) Name() string {
	return m.name
}

func (m *MockEstimator) Estimate(ctx context.Context, in speaker.Input) (speaker.Vote, error) {
	m.mu.Lock()
	vote, err, delay, honor := m.vote, m.err, m.delay, m.honorCtx
	m.estimates++
	m.mu.Unlock()

	if delay > 0 {
		if honor {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return speaker.Vote{}, ctx.Err()
			}
		} else {
			time.Sleep(delay)
		}
	}
	return vote, err
}

func (m *MockEstimator) Observe(in speaker.Input, label speaker.Speaker, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, label)
}

func (m *MockEstimator) SetProfiles(p speaker.Pair[*speaker.Profile]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = p
}

func (m *MockEstimator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func (m *MockEstimator) observations() []speaker.Speaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]speaker.Speaker(nil), m.observed...)
}

// MockLearner also receives corrective feedback.
type MockLearner struct {
	*MockEstimator
	learned []speaker.Speaker
}

func (m *MockLearner) Learn(in speaker.Input, vote speaker.Vote, actual speaker.Speaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learned = append(m.learned, actual)
}

type mocks struct {
	heuristic, embedding, pattern *MockEstimator
}

func newMockEngine(cfg Config, opts ...Option) (*Engine, mocks) {
	m := mocks{
		heuristic: newMock("heuristic", speaker.Undetermined, 0),
		embedding: newMock("embedding", speaker.Undetermined, 0),
		pattern:   newMock("pattern", speaker.Undetermined, 0),
	}
	opts = append([]Option{
		WithEstimator(MethodHeuristic, m.heuristic),
		WithEstimator(MethodEmbedding, m.embedding),
		WithEstimator(MethodPattern, m.pattern),
	}, opts...)
	return New(cfg, opts...), m
}
