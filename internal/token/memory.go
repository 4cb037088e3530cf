package token

import (
	"sync"

	"github.com/desertthunder/relink/internal/shared"
)

// MemoryLayer is the page-scoped in-memory cache, always the first layer.
type MemoryLayer struct {
	mu    sync.Mutex
	value string
}

// NewMemoryLayer creates an empty [MemoryLayer].
func NewMemoryLayer() *MemoryLayer {
	return &MemoryLayer{}
}

func (m *MemoryLayer) Name() string { return "memory" }

func (m *MemoryLayer) Get() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value == "" {
		return "", shared.ErrTokenMissing
	}
	return m.value, nil
}

func (m *MemoryLayer) Set(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = token
	return nil
}

func (m *MemoryLayer) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = ""
	return nil
}
