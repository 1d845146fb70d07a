package kv

import (
	"fmt"
	"path/filepath"

	"inkwell/internal/config"
	"inkwell/internal/durable"
)

// NewKVFromConfig creates a KV implementation based on the storage config type.
// File-backed stores are named after the device so several devices can share
// a synced data directory.
func NewKVFromConfig(cfg config.StorageConfig, deviceID string) (durable.KV, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryKV(cfg.QuotaBytes), nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite storage")
		}
		s, err := NewSQLiteKV(filepath.Join(cfg.DataDir, deviceID+".db"), cfg.QuotaBytes)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for badger storage")
		}
		b, err := NewBadgerKV(filepath.Join(cfg.DataDir, deviceID+".badger"), cfg.QuotaBytes)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
