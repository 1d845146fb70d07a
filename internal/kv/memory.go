package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"inkwell/internal/durable"
)

// MemoryKV is an in-process KV with an optional byte quota, charged the way
// browser storage charges: two bytes per UTF-16 code unit of key and value.
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int64
	usage int64
}

var (
	_ durable.KV           = (*MemoryKV)(nil)
	_ durable.Estimator    = (*MemoryKV)(nil)
	_ durable.HealthProber = (*MemoryKV)(nil)
)

// NewMemoryKV creates an empty MemoryKV. quota <= 0 means unlimited.
func NewMemoryKV(quota int64) *MemoryKV {
	return &MemoryKV{data: make(map[string]string), quota: quota}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := entrySize(key, value)
	var old int64
	if prev, ok := m.data[key]; ok {
		old = entrySize(key, prev)
	}
	next := m.usage - old + size
	if m.quota > 0 && next > m.quota {
		return fmt.Errorf("setting %q: %w", key, durable.ErrQuotaExceeded)
	}
	m.data[key] = value
	m.usage = next
	return nil
}

func (m *MemoryKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.data[key]; ok {
		m.usage -= entrySize(key, prev)
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryKV) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Estimate reports the configured quota and current usage. Without a quota
// it reports zero so the Store falls back to its own measurement.
func (m *MemoryKV) Estimate(ctx context.Context) (durable.StorageEstimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return durable.StorageEstimate{Quota: m.quota, Usage: m.usage}, nil
}

// ProbeHealth always succeeds; there is no engine to fail.
func (m *MemoryKV) ProbeHealth(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func entrySize(key, value string) int64 {
	return durable.SizeOf(key, durable.SizeUTF16) + durable.SizeOf(value, durable.SizeUTF16)
}
