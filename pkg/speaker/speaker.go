// Package speaker holds the vocabulary shared by the diarization estimators,
// the fusion engine and the enrollment workflow.
package speaker

import (
	"fmt"
	"strings"
)

// Speaker labels the party a detection is attributed to.
type Speaker int

const (
	Undetermined Speaker = iota
	A
	B
	Silence
)

// Parties lists the two conversation participants in slot order.
var Parties = [2]Speaker{A, B}

func (s Speaker) String() string {
	switch s {
	case A:
		return "speaker_a"
	case B:
		return "speaker_b"
	case Silence:
		return "silence"
	default:
		return "undetermined"
	}
}

// IsParty reports whether s is one of the two participants.
func (s Speaker) IsParty() bool {
	return s == A || s == B
}

// Index returns the slot of a participant in a Pair, or -1.
func (s Speaker) Index() int {
	switch s {
	case A:
		return 0
	case B:
		return 1
	default:
		return -1
	}
}

// Other returns the opposite participant. Non-parties map to themselves.
func (s Speaker) Other() Speaker {
	switch s {
	case A:
		return B
	case B:
		return A
	default:
		return s
	}
}

// Parse accepts the String form as well as the short forms "a" and "b".
func Parse(v string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "speaker_a", "a":
		return A, nil
	case "speaker_b", "b":
		return B, nil
	case "silence":
		return Silence, nil
	case "undetermined", "":
		return Undetermined, nil
	}
	return Undetermined, fmt.Errorf("speaker: unknown label %q", v)
}

func (s Speaker) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Speaker) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Pair is a two-slot container indexed by participant.
type Pair[T any] [2]T

// Get returns the value for a participant, or the zero value for non-parties.
func (p Pair[T]) Get(s Speaker) T {
	var zero T
	i := s.Index()
	if i < 0 {
		return zero
	}
	return p[i]
}

// Set stores v for a participant. Non-parties are ignored.
func (p *Pair[T]) Set(s Speaker, v T) {
	if i := s.Index(); i >= 0 {
		p[i] = v
	}
}
