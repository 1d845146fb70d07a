package testutil

import (
	"fmt"
	"sync"
	"testing"

	"inkwell/internal/durable"
	"inkwell/internal/kv"
)

// NewTestKV returns an in-memory KV with the given quota in UTF-16 bytes.
// Zero means unlimited.
func NewTestKV(t *testing.T, quota int64) *kv.MemoryKV {
	t.Helper()
	return kv.NewMemoryKV(quota)
}

// FlakyKV wraps a KV and fails writes while Fail returns a non-nil error.
// Every attempted Set is recorded, successful or not.
type FlakyKV struct {
	durable.KV

	mu       sync.Mutex
	fail     func(op, key string) error
	attempts []string
}

func NewFlakyKV(inner durable.KV) *FlakyKV {
	return &FlakyKV{KV: inner}
}

// SetFailure installs fail. A nil fail restores normal behaviour.
func (f *FlakyKV) SetFailure(fail func(op, key string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// FailQuota makes every write fail with a quota error.
func (f *FlakyKV) FailQuota() {
	f.SetFailure(func(op, key string) error {
		return fmt.Errorf("writing %q: %w", key, durable.ErrQuotaExceeded)
	})
}

// SetAttempts returns every key passed to Set, in order.
func (f *FlakyKV) SetAttempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

func (f *FlakyKV) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op == "set" {
		f.attempts = append(f.attempts, key)
	}
	if f.fail == nil {
		return nil
	}
	return f.fail(op, key)
}

func (f *FlakyKV) Get(key string) (string, bool, error) {
	if err := f.check("get", key); err != nil {
		return "", false, err
	}
	return f.KV.Get(key)
}

func (f *FlakyKV) Set(key, value string) error {
	if err := f.check("set", key); err != nil {
		return err
	}
	return f.KV.Set(key, value)
}

func (f *FlakyKV) Remove(key string) error {
	if err := f.check("remove", key); err != nil {
		return err
	}
	return f.KV.Remove(key)
}

// BlockingKV blocks every Set on the given key until Release is called.
type BlockingKV struct {
	durable.KV
	key     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewBlockingKV(inner durable.KV, key string) *BlockingKV {
	return &BlockingKV{
		KV:      inner,
		key:     key,
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *BlockingKV) Set(key, value string) error {
	if key == b.key {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.KV.Set(key, value)
}

// Entered is signalled each time a Set starts blocking.
func (b *BlockingKV) Entered() <-chan struct{} { return b.entered }

// Release unblocks every current and future Set.
func (b *BlockingKV) Release() { b.once.Do(func() { close(b.release) }) }
