package identity

import (
	"context"
	"sync"
)

// MemoryBackend keeps mapping state in process memory only. It backs the
// "memory" persistence mode and tests.
type MemoryBackend struct {
	mu        sync.Mutex
	scopes    map[string]ScopeState
	saves     int
	failSaves error
}

// NewMemoryBackend returns a backend preloaded with scopes.
func NewMemoryBackend(scopes map[string]ScopeState) *MemoryBackend {
	b := &MemoryBackend{scopes: make(map[string]ScopeState)}
	for k, v := range scopes {
		b.scopes[k] = v.Clone()
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) (map[string]ScopeState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]ScopeState, len(b.scopes))
	for k, v := range b.scopes {
		out[k] = v.Clone()
	}
	return out, nil
}

func (b *MemoryBackend) SaveScope(_ context.Context, scope string, st ScopeState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSaves != nil {
		return b.failSaves
	}
	b.scopes[scope] = st.Clone()
	b.saves++
	return nil
}

// SetFailSaves makes every later save return err; nil restores saving.
func (b *MemoryBackend) SetFailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSaves = err
}

// Saves returns the number of successful saves.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
