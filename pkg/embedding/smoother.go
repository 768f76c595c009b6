package embedding

import "github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"

// Smoother keeps the labels of the last few accepted frames and blends
// their distribution into per-frame scores. A single odd frame is pulled
// toward the recent majority; a sustained switch wins once it dominates
// the window.
type Smoother struct {
	window []speaker.Speaker // circular buffer
	pos    int
	filled int
	blend  float64
}

// SmootherOption configures a Smoother.
type SmootherOption func(*Smoother)

// WithWindow sets how many labels are remembered (default 5).
func WithWindow(n int) SmootherOption {
	return func(s *Smoother) {
		if n > 0 {
			s.window = make([]speaker.Speaker, n)
		}
	}
}

// WithBlend sets the weight of the majority distribution (default 0.3).
func WithBlend(b float64) SmootherOption {
	return func(s *Smoother) {
		if b >= 0 && b <= 1 {
			s.blend = b
		}
	}
}

func NewSmoother(opts ...SmootherOption) *Smoother {
	s := &Smoother{
		window: make([]speaker.Speaker, 5),
		blend:  0.3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push records an accepted label. Non-party labels are ignored.
func (s *Smoother) Push(label speaker.Speaker) {
	if !label.IsParty() {
		return
	}
	s.window[s.pos] = label
	s.pos = (s.pos + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
}

// Shares returns the fraction of the window held by each speaker.
func (s *Smoother) Shares() (speaker.Pair[float64], int) {
	var counts speaker.Pair[float64]
	for i := 0; i < s.filled; i++ {
		idx := (s.pos - s.filled + i + len(s.window)) % len(s.window)
		lbl := s.window[idx]
		counts.Set(lbl, counts.Get(lbl)+1)
	}
	if s.filled == 0 {
		return counts, 0
	}
	for i := range counts {
		counts[i] /= float64(s.filled)
	}
	return counts, s.filled
}

// Apply blends probabilities with the window distribution.
func (s *Smoother) Apply(probs speaker.Pair[float64]) speaker.Pair[float64] {
	shares, n := s.Shares()
	if n == 0 {
		return probs
	}
	var out speaker.Pair[float64]
	for i := range out {
		out[i] = (1-s.blend)*probs[i] + s.blend*shares[i]
	}
	return out
}

// Reset empties the window.
func (s *Smoother) Reset() {
	for i := range s.window {
		s.window[i] = speaker.Undetermined
	}
	s.pos, s.filled = 0, 0
}

// Clone returns an independent copy.
func (s *Smoother) Clone() *Smoother {
	c := *s
	c.window = append([]speaker.Speaker(nil), s.window...)
	return &c
}
