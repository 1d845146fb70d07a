package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBackend keeps objects in memory. It is safe for concurrent use and
// meant for tests and dry runs.
type MemoryBackend struct {
	name    string
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{name: name, objects: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	m.puts++
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *MemoryBackend) ValidateSetup(ctx context.Context) error {
	return ctx.Err()
}

// Puts returns how many objects have been written.
func (m *MemoryBackend) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Corrupt overwrites an object's bytes in place. Used by tests.
func (m *MemoryBackend) Corrupt(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
}
