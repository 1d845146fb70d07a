package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"inkwell/internal/durable"
)

// BadgerKV stores keys in a badger LSM tree. Usage is tracked as the sum of
// live key and value sizes, which is what a quota should limit; badger's
// own file sizes include preallocated value logs.
type BadgerKV struct {
	db       *badger.DB
	dir      string
	inMemory bool
	quota    int64

	mu    sync.Mutex
	usage int64
}

var (
	_ durable.KV           = (*BadgerKV)(nil)
	_ durable.Estimator    = (*BadgerKV)(nil)
	_ durable.HealthProber = (*BadgerKV)(nil)
)

// NewBadgerKV opens a badger database in dir. An empty dir opens an
// in-memory database. quota <= 0 means the free disk space is the limit.
func NewBadgerKV(dir string, quota int64) (*BadgerKV, error) {
	db, err := openBadger(dir)
	if err != nil {
		return nil, err
	}
	b := &BadgerKV{db: db, dir: dir, inMemory: dir == "", quota: quota}
	if err := b.recount(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func openBadger(dir string) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating badger directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
		opts.ValueLogFileSize = 16 << 20
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	return db, nil
}

// recount recomputes usage from the stored entries.
func (b *BadgerKV) recount() error {
	var total int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			total += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("measuring badger usage: %w", err)
	}
	b.mu.Lock()
	b.usage = total
	b.mu.Unlock()
	return nil
}

func (b *BadgerKV) Get(key string) (string, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return string(value), true, nil
}

func (b *BadgerKV) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var delta int64
	err := b.db.Update(func(txn *badger.Txn) error {
		var old int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			old = int64(len(key)) + item.ValueSize()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		delta = int64(len(key)+len(value)) - old
		if b.quota > 0 && b.usage+delta > b.quota {
			return durable.ErrQuotaExceeded
		}
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			err = fmt.Errorf("%w: %v", durable.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("writing %q: %w", key, err)
	}
	b.usage += delta
	return nil
}

func (b *BadgerKV) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var freed int64
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		freed = int64(len(key)) + item.ValueSize()
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	b.usage -= freed
	return nil
}

func (b *BadgerKV) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// Estimate reports live data against the quota, or against free disk space
// when no quota is set.
func (b *BadgerKV) Estimate(ctx context.Context) (durable.StorageEstimate, error) {
	b.mu.Lock()
	used := b.usage
	b.mu.Unlock()

	switch {
	case b.quota > 0:
		return durable.StorageEstimate{Quota: b.quota, Usage: used}, nil
	case b.inMemory:
		return durable.StorageEstimate{Usage: used}, nil
	default:
		return diskEstimate(b.dir, used)
	}
}

// ProbeHealth opens, writes and removes a throwaway badger database.
func (b *BadgerKV) ProbeHealth(ctx context.Context) error {
	var dir string
	if !b.inMemory {
		d, err := os.MkdirTemp(filepath.Dir(b.dir), ".inkwell-health-*")
		if err != nil {
			return fmt.Errorf("creating probe directory: %w", err)
		}
		dir = d
		defer os.RemoveAll(dir)
	}

	probe, err := openBadger(dir)
	if err != nil {
		return fmt.Errorf("opening probe database: %w", err)
	}
	err = probe.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("probe"), []byte("ok"))
	})
	if cerr := probe.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing probe database: %w", err)
	}
	return ctx.Err()
}

// RunGC reclaims value log space. badger.ErrNoRewrite means there was
// nothing to reclaim and is not an error.
func (b *BadgerKV) RunGC() error {
	if b.inMemory {
		return nil
	}
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("running value log gc: %w", err)
	}
	return nil
}

// Close closes the database.
func (b *BadgerKV) Close() error {
	return b.db.Close()
}
