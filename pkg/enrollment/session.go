// Package enrollment runs the guided calibration workflow that turns
// labeled voice samples into speaker profiles.
package enrollment

import (
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Step string

const (
	StepInstructions Step = "instructions"
	StepRecording    Step = "recording"
	StepReview       Step = "review"
	StepComplete     Step = "complete"
	StepAbandoned    Step = "abandoned"
)

// Closed reports whether no more samples can be recorded.
func (s Step) Closed() bool {
	return s == StepComplete || s == StepAbandoned
}

type PromptType string

const (
	PromptSustainedVowel PromptType = "sustained_vowel"
	PromptReadingPassage PromptType = "reading_passage"
	PromptCounting       PromptType = "counting"
	PromptFreeSpeech     PromptType = "free_speech"
)

// Prompt is one instruction shown to the person being enrolled.
type Prompt struct {
	Type     PromptType    `json:"type"`
	Text     string        `json:"text"`
	Duration time.Duration `json:"duration"`
}

func DefaultPrompts() []Prompt {
	return []Prompt{
		{Type: PromptSustainedVowel, Text: `Hold an "aaah" sound steadily.`, Duration: 3 * time.Second},
		{Type: PromptReadingPassage, Text: "The quick brown fox jumps over the lazy dog near the riverbank.", Duration: 5 * time.Second},
		{Type: PromptCounting, Text: "Count slowly from one to ten.", Duration: 5 * time.Second},
		{Type: PromptFreeSpeech, Text: "Describe what you did this morning.", Duration: 6 * time.Second},
	}
}

// Sample is one accepted recording.
type Sample struct {
	ID         string
	Speaker    speaker.Speaker
	Prompt     PromptType
	Features   *features.Vector
	Embedding  []float32
	Quality    features.Quality
	RecordedAt time.Time
}

// QualityMetrics is the running mean of accepted sample quality.
type QualityMetrics struct {
	Count   int     `json:"count"`
	SNR     float64 `json:"snr_db"`
	Clarity float64 `json:"clarity"`
	Score   float64 `json:"score"`
}

func (m *QualityMetrics) add(q features.Quality) {
	m.Count++
	n := float64(m.Count)
	m.SNR += (q.SNR - m.SNR) / n
	m.Clarity += (q.Clarity - m.Clarity) / n
	m.Score += (q.Score - m.Score) / n
}

// Progress reports how far enrollment has come.
type Progress struct {
	Accepted    speaker.Pair[int] `json:"accepted"`
	Required    int               `json:"required"`
	Target      speaker.Speaker   `json:"target"`
	PromptIndex int               `json:"prompt_index"`
	Step        Step              `json:"step"`
	Percent     float64           `json:"percent"`
}

// Session is the state of one enrollment workflow.
type Session struct {
	ID          string
	Step        Step
	Target      speaker.Speaker
	PromptIndex int
	Samples     speaker.Pair[[]Sample]
	Metrics     speaker.Pair[QualityMetrics]
	Completed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Session) progress(required int) Progress {
	p := Progress{
		Required:    required,
		Target:      s.Target,
		PromptIndex: s.PromptIndex,
		Step:        s.Step,
	}
	done := 0
	for _, sp := range speaker.Parties {
		n := len(s.Samples.Get(sp))
		p.Accepted.Set(sp, n)
		done += min(n, required)
	}
	if required > 0 {
		p.Percent = float64(done) / float64(2*required)
	}
	return p
}

// snapshot copies the session so callers never share its slices.
func (s *Session) snapshot() *Session {
	c := *s
	for i := range c.Samples {
		c.Samples[i] = append([]Sample(nil), s.Samples[i]...)
	}
	return &c
}
