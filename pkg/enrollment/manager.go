package enrollment

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/embedding"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Config struct {
	// MinSamples is the number of accepted samples a speaker needs before
	// a profile is built.
	MinSamples int
	SessionTTL time.Duration
	Quality    features.QualityConfig
	Prompts    []Prompt
}

func DefaultConfig() Config {
	return Config{
		MinSamples: 3,
		SessionTTL: 30 * time.Minute,
		Quality:    features.DefaultQualityConfig(),
		Prompts:    DefaultPrompts(),
	}
}

// SampleResult is the outcome of one recorded sample.
type SampleResult struct {
	Accepted       bool             `json:"accepted"`
	SampleID       string           `json:"sample_id,omitempty"`
	Quality        features.Quality `json:"quality"`
	Recommendation string           `json:"recommendation"`
	Progress       Progress         `json:"progress"`
	NextPrompt     Prompt           `json:"next_prompt"`
}

// SpeakerResult describes what completion produced for one speaker.
type SpeakerResult struct {
	Speaker          speaker.Speaker  `json:"speaker"`
	Profile          *speaker.Profile `json:"profile,omitempty"`
	SampleIDs        []string         `json:"sample_ids"`
	NeedsMoreSamples int              `json:"needs_more_samples"`
}

// CompletionResult is returned by Complete. Success means both speakers
// got a complete profile; otherwise PerSpeaker names who needs more.
type CompletionResult struct {
	Success        bool                        `json:"success"`
	PerSpeaker     speaker.Pair[SpeakerResult] `json:"per_speaker"`
	Recommendation string                      `json:"recommendation"`
}

// Profiles returns the profiles completion built, nil where none was.
func (r CompletionResult) Profiles() speaker.Pair[*speaker.Profile] {
	var out speaker.Pair[*speaker.Profile]
	for _, s := range speaker.Parties {
		out.Set(s, r.PerSpeaker.Get(s).Profile)
	}
	return out
}

// Manager owns at most one active enrollment session.
type Manager struct {
	cfg       Config
	extractor *features.Extractor
	model     embedding.Model
	clock     func() time.Time

	mu     sync.Mutex
	active *Session
}

func NewManager(cfg Config, extractor *features.Extractor, model embedding.Model) *Manager {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = DefaultPrompts()
	}
	return &Manager{
		cfg:       cfg,
		extractor: extractor,
		model:     model,
		clock:     time.Now,
	}
}

func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Prompt returns the prompt for a prompt index; prompts cycle.
func (m *Manager) Prompt(i int) Prompt {
	return m.cfg.Prompts[i%len(m.cfg.Prompts)]
}

// expired drops the active session once it outlives its TTL.
func (m *Manager) expired(now time.Time) bool {
	if m.active == nil || m.cfg.SessionTTL <= 0 {
		return false
	}
	if now.Sub(m.active.UpdatedAt) <= m.cfg.SessionTTL {
		return false
	}
	m.active.Step = StepAbandoned
	m.active = nil
	return true
}

func (m *Manager) lookup(id string, now time.Time) (*Session, error) {
	if m.active == nil || m.active.ID != id {
		return nil, ErrSessionNotFound
	}
	if m.expired(now) {
		return nil, ErrSessionExpired
	}
	if m.active.Step.Closed() {
		return nil, ErrSessionClosed
	}
	return m.active, nil
}

// Start opens a new session. An empty id gets a generated one.
func (m *Manager) Start(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	m.expired(now)
	if m.active != nil {
		return nil, ErrSessionActive
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.active = &Session{
		ID:        id,
		Step:      StepInstructions,
		Target:    speaker.A,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m.active.snapshot(), nil
}

// Session returns a snapshot of the active session.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id, m.clock())
	if err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Active returns the active session id, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expired(m.clock())
	if m.active == nil {
		return "", false
	}
	return m.active.ID, true
}

// Record analyzes one labeled sample. A rejected sample leaves the session
// untouched and the result carries the reasons with hints.
func (m *Manager) Record(id string, frame audio.Frame, prompt PromptType, s speaker.Speaker) (SampleResult, error) {
	if !s.IsParty() {
		return SampleResult{}, ErrInvalidSpeaker
	}

	m.mu.Lock()
	sess, err := m.lookup(id, m.clock())
	if err != nil {
		m.mu.Unlock()
		return SampleResult{}, err
	}
	m.mu.Unlock()

	// analysis runs without the lock; the session is re-checked afterwards
	q := features.AnalyzeQuality(frame, m.cfg.Quality)
	var vec *features.Vector
	if q.Acceptable() {
		vec, err = m.extractor.Extract(frame)
		switch {
		case errors.Is(err, features.ErrNoVoice):
			q.Reject(features.ReasonNoVoice)
		case err != nil:
			return SampleResult{}, fmt.Errorf("extract sample features: %w", err)
		}
	}
	var emb []float32
	if q.Acceptable() {
		if emb, err = m.model.Embed(vec); err != nil {
			return SampleResult{}, fmt.Errorf("embed sample: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if cur, err := m.lookup(id, now); err != nil {
		return SampleResult{}, err
	} else if cur != sess {
		return SampleResult{}, ErrSessionNotFound
	}

	if !q.Acceptable() {
		return SampleResult{
			Quality:        q,
			Recommendation: strings.Join(q.Hints, " "),
			Progress:       sess.progress(m.cfg.MinSamples),
			NextPrompt:     m.Prompt(sess.PromptIndex),
		}, nil
	}

	sample := Sample{
		ID:         uuid.NewString(),
		Speaker:    s,
		Prompt:     prompt,
		Features:   vec,
		Embedding:  emb,
		Quality:    q,
		RecordedAt: now,
	}
	sess.Samples.Set(s, append(sess.Samples.Get(s), sample))
	metrics := sess.Metrics.Get(s)
	metrics.add(q)
	sess.Metrics.Set(s, metrics)
	sess.PromptIndex++
	sess.UpdatedAt = now
	if sess.Step == StepInstructions {
		sess.Step = StepRecording
	}

	have := len(sess.Samples.Get(s))
	other := len(sess.Samples.Get(s.Other()))
	switch {
	case have >= m.cfg.MinSamples && other >= m.cfg.MinSamples:
		sess.Step = StepReview
	case have >= m.cfg.MinSamples && sess.Target == s:
		sess.Target = s.Other()
	}

	return SampleResult{
		Accepted:       true,
		SampleID:       sample.ID,
		Quality:        q,
		Recommendation: m.recommend(sess),
		Progress:       sess.progress(m.cfg.MinSamples),
		NextPrompt:     m.Prompt(sess.PromptIndex),
	}, nil
}

func (m *Manager) recommend(sess *Session) string {
	var missing []string
	for _, s := range speaker.Parties {
		if n := m.cfg.MinSamples - len(sess.Samples.Get(s)); n > 0 {
			missing = append(missing, fmt.Sprintf("%d more sample(s) from %s", n, s))
		}
	}
	if len(missing) == 0 {
		return "Enough samples recorded; complete calibration."
	}
	return "Record " + strings.Join(missing, " and ") + "."
}

// Complete builds profiles for every speaker with enough accepted samples.
// The session closes only when both speakers qualified; a partial result
// keeps it open so the missing speaker can record more.
func (m *Manager) Complete(id string) (CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	sess, err := m.lookup(id, now)
	if err != nil {
		return CompletionResult{}, err
	}
	if len(sess.Samples[0])+len(sess.Samples[1]) == 0 {
		return CompletionResult{}, ErrNoSamples
	}

	res := CompletionResult{Success: true}
	for _, s := range speaker.Parties {
		samples := sess.Samples.Get(s)
		sr := SpeakerResult{Speaker: s}
		for _, smp := range samples {
			sr.SampleIDs = append(sr.SampleIDs, smp.ID)
		}
		if len(samples) >= m.cfg.MinSamples {
			sr.Profile = BuildProfile(s, samples, m.cfg.MinSamples, now)
		} else {
			sr.NeedsMoreSamples = m.cfg.MinSamples - len(samples)
			res.Success = false
		}
		res.PerSpeaker.Set(s, sr)
	}
	res.Recommendation = m.recommend(sess)

	if res.Success {
		sess.Step = StepComplete
		sess.Completed = true
		m.active = nil
	} else {
		sess.UpdatedAt = now
	}
	return res, nil
}

// Abandon discards the session and every sample in it.
func (m *Manager) Abandon(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.lookup(id, m.clock())
	if err != nil {
		return err
	}
	sess.Step = StepAbandoned
	sess.Samples = speaker.Pair[[]Sample]{}
	m.active = nil
	return nil
}
