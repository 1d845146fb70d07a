package durable

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is the condition every KV backend reports when a write is
// rejected because the store is full. Backends wrap it so the store can
// classify the failure without knowing the backend.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KV is the synchronous key/value primitive the Store wraps. It plays the role
// of the browser's persistent key/value store: string keys, string values,
// last-write-wins per key, no transactions across keys.
type KV interface {
	// Get returns the value stored under key. found is false when the key
	// does not exist; that is not an error.
	Get(key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys returns every key currently stored, in ascending order.
	Keys() ([]string, error)
}

// StorageEstimate is a backend's own view of its capacity.
type StorageEstimate struct {
	Quota int64
	Usage int64
}

// Estimator is implemented by backends that can report capacity without
// scanning every value. It is the counterpart of the platform storage
// estimate API; when it is absent or fails the Store measures usage itself.
type Estimator interface {
	Estimate(ctx context.Context) (StorageEstimate, error)
}

// HealthProber is implemented by backends that can verify the underlying
// engine works end to end, typically by creating and deleting a throwaway
// database.
type HealthProber interface {
	ProbeHealth(ctx context.Context) error
}
