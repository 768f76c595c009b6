// Package profilestore persists enrolled speaker profiles between
// conversations.
package profilestore

import (
	"context"
	"errors"
	"sync"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// ErrInvalidSpeaker is returned when saving a profile for a non-participant.
var ErrInvalidSpeaker = errors.New("profilestore: profile speaker must be A or B")

// Store loads and saves the two profiles that belong to one owner, usually
// a user or a conversation pair.
type Store interface {
	// Load returns the stored profiles; missing slots are nil.
	Load(ctx context.Context, owner string) (speaker.Pair[*speaker.Profile], error)
	Save(ctx context.Context, owner string, p *speaker.Profile) error
	Delete(ctx context.Context, owner string) error
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]speaker.Pair[*speaker.Profile]
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]speaker.Pair[*speaker.Profile])}
}

func (m *Memory) Load(_ context.Context, owner string) (speaker.Pair[*speaker.Profile], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.data[owner]
	var out speaker.Pair[*speaker.Profile]
	for i, p := range stored {
		out[i] = p.Clone()
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, owner string, p *speaker.Profile) error {
	if p == nil || !p.Speaker.IsParty() {
		return ErrInvalidSpeaker
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := m.data[owner]
	pair.Set(p.Speaker, p.Clone())
	m.data[owner] = pair
	return nil
}

func (m *Memory) Delete(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, owner)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
