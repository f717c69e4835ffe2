package store

import (
	"context"
	"sync"

	"github.com/tambola-live/engine/internal/game"
)

// Memory is an in-process Store used by unit tests and local development.
// Each batch builds a fresh document and swaps it in under the lock, so a
// concurrent Snapshot never observes a half-applied batch.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string]any{}}
}

func (m *Memory) Snapshot(_ context.Context, hostID string) (game.State, bool, error) {
	m.mu.RLock()
	doc, ok := m.docs[hostID]
	m.mu.RUnlock()
	if !ok {
		return game.State{}, false, nil
	}
	state, err := decodeState(doc)
	if err != nil {
		return game.State{}, false, err
	}
	return state, true, nil
}

func (m *Memory) BatchWrite(_ context.Context, hostID string, writes map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := ApplyWrites(m.docs[hostID], writes)
	if err != nil {
		return err
	}
	m.docs[hostID] = next
	return nil
}

// Document exposes the raw stored document. Test helper.
func (m *Memory) Document(hostID string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[hostID]
}
